package main

import (
	"context"
	"fmt"
	"os"

	sqliteadapter "github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/db/sqlite"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/application"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Enrollment and control point sync run against the database directly
// so tokens never transit the network.

func openLocalService(ctx context.Context, dbPath string) (*application.PatrolService, error) {
	db, err := sqliteadapter.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	repo := sqliteadapter.NewPatrolRepository(db)
	catalog := sqliteadapter.NewControlPointCatalog(db)
	return application.NewPatrolService(repo, catalog, catalog, nil, zerolog.Nop()), nil
}

func runEnroll(ctx context.Context, dbPath, guardID, name string, operator bool) error {
	service, err := openLocalService(ctx, dbPath)
	if err != nil {
		return err
	}
	token, err := service.EnrollGuard(ctx, guardID, name, operator)
	if err != nil {
		return err
	}
	fmt.Printf("token for %s (store it, shown once): %s\n", guardID, token)
	return nil
}

type pointsFile struct {
	Points []struct {
		Name         string  `yaml:"name"`
		Latitude     float64 `yaml:"latitude"`
		Longitude    float64 `yaml:"longitude"`
		RadiusMeters float64 `yaml:"radius_meters"`
		Mandatory    bool    `yaml:"mandatory"`
		Active       *bool   `yaml:"active"`
		OrderHint    int     `yaml:"order_hint"`
	} `yaml:"points"`
}

func runPointsSync(ctx context.Context, file, dbPath string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read points file: %w", err)
	}
	var parsed pointsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse points file: %w", err)
	}

	points := make([]domain.ControlPoint, 0, len(parsed.Points))
	for _, p := range parsed.Points {
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		points = append(points, domain.ControlPoint{
			Name:         p.Name,
			Latitude:     p.Latitude,
			Longitude:    p.Longitude,
			RadiusMeters: p.RadiusMeters,
			Mandatory:    p.Mandatory,
			Active:       active,
			OrderHint:    p.OrderHint,
		})
	}

	service, err := openLocalService(ctx, dbPath)
	if err != nil {
		return err
	}
	synced, err := service.SyncControlPoints(ctx, points)
	if err != nil {
		return err
	}
	fmt.Printf("synced %d control points\n", synced)
	return nil
}
