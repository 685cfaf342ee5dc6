package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"gorm.io/gorm"
)

// ControlPointCatalog serves the read side of the registry and the upsert
// used by the sync command. Patrol operations never write through it.
type ControlPointCatalog struct {
	db *gorm.DB
}

func NewControlPointCatalog(db *gorm.DB) *ControlPointCatalog {
	return &ControlPointCatalog{db: db}
}

func (c *ControlPointCatalog) Get(ctx context.Context, id uint) (domain.ControlPoint, error) {
	var m ControlPointModel
	if err := c.db.WithContext(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ControlPoint{}, domain.NotFoundf("control point %d not found", id)
		}
		return domain.ControlPoint{}, domain.Persistencef(err, "get control point")
	}
	return controlPointFromModel(m), nil
}

func (c *ControlPointCatalog) List(ctx context.Context, filter domain.ControlPointFilter) ([]domain.ControlPoint, error) {
	q := c.db.WithContext(ctx).Model(&ControlPointModel{})
	if filter.OnlyActive {
		q = q.Where("active = ?", true)
	}
	if s := strings.TrimSpace(filter.Query); s != "" {
		q = q.Where("name LIKE ?", "%"+s+"%")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	rows := make([]ControlPointModel, 0)
	if err := q.Order("order_hint ASC, name ASC").Find(&rows).Error; err != nil {
		return nil, domain.Persistencef(err, "list control points")
	}
	result := make([]domain.ControlPoint, 0, len(rows))
	for _, m := range rows {
		result = append(result, controlPointFromModel(m))
	}
	return result, nil
}

// UpsertByName matches on the unique name so repeated syncs converge instead
// of duplicating points.
func (c *ControlPointCatalog) UpsertByName(ctx context.Context, value domain.ControlPoint) (domain.ControlPoint, error) {
	var m ControlPointModel
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ?", value.Name).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			m = ControlPointModel{
				Name:         value.Name,
				Latitude:     value.Latitude,
				Longitude:    value.Longitude,
				RadiusMeters: value.RadiusMeters,
				Mandatory:    value.Mandatory,
				Active:       value.Active,
				OrderHint:    value.OrderHint,
			}
			return tx.Create(&m).Error
		case err != nil:
			return err
		}
		m.Latitude = value.Latitude
		m.Longitude = value.Longitude
		m.RadiusMeters = value.RadiusMeters
		m.Mandatory = value.Mandatory
		m.Active = value.Active
		m.OrderHint = value.OrderHint
		return tx.Save(&m).Error
	})
	if err != nil {
		return domain.ControlPoint{}, domain.Persistencef(err, "upsert control point")
	}
	return controlPointFromModel(m), nil
}

func controlPointFromModel(m ControlPointModel) domain.ControlPoint {
	return domain.ControlPoint{
		ID:           m.ID,
		Name:         m.Name,
		Latitude:     m.Latitude,
		Longitude:    m.Longitude,
		RadiusMeters: m.RadiusMeters,
		Mandatory:    m.Mandatory,
		Active:       m.Active,
		OrderHint:    m.OrderHint,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
