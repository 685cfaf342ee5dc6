package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/db/sqlite"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/events"
	httpadapter "github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/http"
	rpcadapter "github.com/VitorLohan2/sistema-visitante-sub004/internal/adapters/rpcjson"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/application"
	"github.com/VitorLohan2/sistema-visitante-sub004/internal/domain"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "ronda",
		Usage: "Guard patrol tracking server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			patrolCommand(),
			pointsCommand(),
			sessionsCommand(),
			auditCommand(),
			accessCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serverOptions struct {
	addr        string
	rpcSocket   string
	dbPath      string
	idleTimeout time.Duration
	logLevel    string
	guardID     string
	guardName   string
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP and JSON-RPC server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Value: "/tmp/ronda.sock", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Value: "ronda.db", Usage: "SQLite database path"},
			&cli.DurationFlag{Name: "idle-timeout", Value: 0, Usage: "auto-cancel patrols with no activity for this long (0 disables)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "zerolog level (trace..error)"},
			&cli.StringFlag{Name: "bootstrap-guard", Value: "operator", Usage: "initial operator guard id when no tokens exist"},
			&cli.StringFlag{Name: "bootstrap-guard-name", Value: "Operator", Usage: "initial operator display name"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverOptions{
				addr:        c.String("addr"),
				rpcSocket:   c.String("rpc-socket"),
				dbPath:      c.String("db-path"),
				idleTimeout: c.Duration("idle-timeout"),
				logLevel:    c.String("log-level"),
				guardID:     c.String("bootstrap-guard"),
				guardName:   c.String("bootstrap-guard-name"),
			})
		},
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func runServer(ctx context.Context, opts serverOptions) error {
	log := newLogger(opts.logLevel)

	db, err := sqliteadapter.Open(opts.dbPath)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	repo := sqliteadapter.NewPatrolRepository(db)
	catalog := sqliteadapter.NewControlPointCatalog(db)
	broker := events.NewBroker(log.With().Str("component", "broker").Logger())
	service := application.NewPatrolService(repo, catalog, catalog, broker, log.With().Str("component", "patrol").Logger())

	if token, err := service.BootstrapOperator(ctx, opts.guardID, opts.guardName); err != nil {
		return err
	} else if token != "" {
		log.Info().Str("guard_id", opts.guardID).Msg("initial operator enrolled")
		fmt.Printf("operator token (store it, shown once): %s\n", token)
	}

	router := httpadapter.NewRouter(service, broker)
	srv := &http.Server{Addr: opts.addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(opts.rpcSocket, service)
	if err != nil {
		return err
	}
	defer func() {
		_ = rpcSrv.Close()
	}()
	log.Info().Str("socket", opts.rpcSocket).Msg("json-rpc listening")

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	if opts.idleTimeout > 0 {
		go runReaper(reaperCtx, service, opts.idleTimeout, log.With().Str("component", "reaper").Logger())
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runReaper(ctx context.Context, service *application.PatrolService, idleTimeout time.Duration, log zerolog.Logger) {
	interval := idleTimeout / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := service.ReapIdleSessions(ctx, idleTimeout)
			if err != nil {
				log.Warn().Err(err).Msg("idle sweep failed")
				continue
			}
			if reaped > 0 {
				log.Info().Int("reaped", reaped).Msg("idle patrols cancelled")
			}
		}
	}
}

func patrolCommand() *cli.Command {
	return &cli.Command{
		Name:  "patrol",
		Usage: "Patrol session commands",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start a patrol at the given position",
				Flags: []cli.Flag{
					&cli.FloatFlag{Name: "lat", Required: true},
					&cli.FloatFlag{Name: "lon", Required: true},
					&cli.StringFlag{Name: "notes"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.PatrolSession
					if err := doPatrolStart(ctx, cfg, c.Float("lat"), c.Float("lon"), c.String("notes"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSession(out)
					return nil
				},
			},
			{
				Name:  "active",
				Usage: "Show the patrol currently in progress",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out struct {
						Active  bool                  `json:"active"`
						Session *domain.PatrolSession `json:"session"`
					}
					if err := doPatrolActive(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					if !out.Active || out.Session == nil {
						fmt.Println("no patrol in progress")
						return nil
					}
					printSession(*out.Session)
					return nil
				},
			},
			{
				Name:  "track",
				Usage: "Push a GPS sample into an active patrol",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "session", Required: true},
					&cli.FloatFlag{Name: "lat", Required: true},
					&cli.FloatFlag{Name: "lon", Required: true},
					&cli.FloatFlag{Name: "accuracy"},
					&cli.FloatFlag{Name: "altitude"},
					&cli.FloatFlag{Name: "speed"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					params := map[string]any{
						"session_id": c.Uint("session"),
						"latitude":   c.Float("lat"),
						"longitude":  c.Float("lon"),
					}
					if c.IsSet("accuracy") {
						params["accuracy"] = c.Float("accuracy")
					}
					if c.IsSet("altitude") {
						params["altitude"] = c.Float("altitude")
					}
					if c.IsSet("speed") {
						params["speed"] = c.Float("speed")
					}
					var out domain.PositionSample
					if err := doPatrolTrack(ctx, cfg, c.Uint("session"), params, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{
						{"id", uintToString(out.ID)},
						{"session_id", uintToString(out.SessionID)},
						{"latitude", formatCoord(out.Latitude)},
						{"longitude", formatCoord(out.Longitude)},
						{"recorded_at", formatTime(out.RecordedAt)},
					})
					return nil
				},
			},
			{
				Name:  "checkpoint",
				Usage: "Record a checkpoint arrival",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "session", Required: true},
					&cli.FloatFlag{Name: "lat", Required: true},
					&cli.FloatFlag{Name: "lon", Required: true},
					&cli.UintFlag{Name: "point", Usage: "control point id to validate against"},
					&cli.StringFlag{Name: "description"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var pointID *uint
					if c.IsSet("point") {
						v := c.Uint("point")
						pointID = &v
					}
					var out domain.CheckpointVisit
					if err := doPatrolCheckpoint(ctx, cfg, c.Uint("session"), c.Float("lat"), c.Float("lon"), pointID, c.String("description"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printVisits([]domain.CheckpointVisit{out})
					return nil
				},
			},
			{
				Name:  "finalize",
				Usage: "Close a patrol and compute its totals",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "session", Required: true},
					&cli.FloatFlag{Name: "lat", Usage: "end latitude, omit when unknown"},
					&cli.FloatFlag{Name: "lon", Usage: "end longitude, omit when unknown"},
					&cli.StringFlag{Name: "notes"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					params := map[string]any{"notes": c.String("notes")}
					if c.IsSet("lat") {
						params["latitude"] = c.Float("lat")
					}
					if c.IsSet("lon") {
						params["longitude"] = c.Float("lon")
					}
					var out domain.PatrolSession
					if err := doPatrolFinalize(ctx, cfg, c.Uint("session"), params, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSession(out)
					return nil
				},
			},
			{
				Name:  "cancel",
				Usage: "Cancel a patrol without totals",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "session", Required: true},
					&cli.StringFlag{Name: "reason"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.PatrolSession
					if err := doPatrolCancel(ctx, cfg, c.Uint("session"), c.String("reason"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSession(out)
					return nil
				},
			},
			{
				Name:  "history",
				Usage: "List own past patrols",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "in_progress, finalized or cancelled"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.SessionPage
					if err := doPatrolHistory(ctx, cfg, c.String("status"), c.Int("limit"), c.Int("offset"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSessions(out.Items)
					return nil
				},
			},
			{
				Name:  "detail",
				Usage: "Show a patrol with its checkpoints and trajectory",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "session", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.SessionDetail
					if err := doPatrolDetail(ctx, cfg, c.Uint("session"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSessionDetail(out)
					return nil
				},
			},
		},
	}
}

func pointsCommand() *cli.Command {
	return &cli.Command{
		Name:  "points",
		Usage: "Control point commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List control points",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "q"},
					&cli.BoolFlag{Name: "all", Usage: "include inactive points"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out []domain.ControlPoint
					if err := doPointsList(ctx, cfg, c.String("q"), c.Bool("all"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printControlPoints(out)
					return nil
				},
			},
			{
				Name:  "near",
				Usage: "Check distance to a control point",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "point", Required: true},
					&cli.FloatFlag{Name: "lat", Required: true},
					&cli.FloatFlag{Name: "lon", Required: true},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.ProximityCheck
					if err := doProximity(ctx, cfg, c.Uint("point"), c.Float("lat"), c.Float("lon"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printProximity(out)
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Load a YAML control point file into the local database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Required: true, Usage: "YAML file with a points list"},
					&cli.StringFlag{Name: "db-path", Value: "ronda.db", Usage: "SQLite database path"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runPointsSync(ctx, c.String("file"), c.String("db-path"))
				},
			},
		},
	}
}

func sessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Operator session commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sessions across all guards",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "guard"},
					&cli.StringFlag{Name: "status"},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.IntFlag{Name: "offset"},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.SessionPage
					if err := doSessionsList(ctx, cfg, c.String("guard"), c.String("status"), c.Int("limit"), c.Int("offset"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printSessions(out.Items)
					return nil
				},
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit trail commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit entries",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "guard"},
					&cli.UintFlag{Name: "session"},
					&cli.StringFlag{Name: "event", Usage: "started, checkpoint, trajectory_point, finalized or cancelled"},
					&cli.IntFlag{Name: "limit", Value: 100},
					&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var sessionID *uint
					if c.IsSet("session") {
						v := c.Uint("session")
						sessionID = &v
					}
					var out domain.AuditPage
					if err := doAuditList(ctx, cfg, c.String("guard"), sessionID, c.String("event"), c.Int("limit"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditEntries(out.Items)
					return nil
				},
			},
		},
	}
}

func accessCommand() *cli.Command {
	return &cli.Command{
		Name:  "access",
		Usage: "Identity and token commands",
		Commands: []*cli.Command{
			{
				Name:  "enroll",
				Usage: "Issue a bearer token for a guard (local database)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "guard", Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.BoolFlag{Name: "operator"},
					&cli.StringFlag{Name: "db-path", Value: "ronda.db", Usage: "SQLite database path"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return runEnroll(ctx, c.String("db-path"), c.String("guard"), c.String("name"), c.Bool("operator"))
				},
			},
			{
				Name:  "use-token",
				Usage: "Store a bearer token for CLI calls",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Required: true},
					&cli.StringFlag{Name: "transport", Value: "uds"},
					&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080"},
					&cli.StringFlag{Name: "socket", Value: "/tmp/ronda.sock"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{
						Transport: c.String("transport"),
						Server:    c.String("server"),
						Socket:    c.String("socket"),
						Token:     c.String("token"),
					}
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("token stored")
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show the identity behind the stored token",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "output raw JSON"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var out domain.Identity
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{
						{"guard_id", out.GuardID},
						{"name", out.Name},
						{"operator", fmt.Sprintf("%t", out.Operator)},
					})
					return nil
				},
			},
			{
				Name:  "logout",
				Usage: "Clear the stored token",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Println("logged out")
					return nil
				},
			},
		},
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
