package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/meinhoongagan/service-marketplace/controllers"
	"github.com/meinhoongagan/service-marketplace/cron"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/middleware"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/meinhoongagan/service-marketplace/redis"
	"github.com/meinhoongagan/service-marketplace/routes"
	"github.com/meinhoongagan/service-marketplace/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled jobs",
		Long: `Run the HTTP API and the scheduled jobs.

Interrupted booking operations are reconciled before the listener starts.` + lockNote,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

// server is the wired application and what has to be released on exit.
type server struct {
	app       *fiber.App
	scheduler *cron.Scheduler
	closers   []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// sinks connects the optional notification channels that are configured.
func sinks(ctx context.Context, e *env, s *server) ([]notify.Sink, controllers.NotificationFeed, error) {
	var (
		out  []notify.Sink
		feed controllers.NotificationFeed
	)
	if e.cfg.SMTP.Host != "" {
		out = append(out, notify.NewEmailSink(utils.NewMailer(e.cfg.SMTP)))
	}

	client, err := redis.NewClient(ctx, e.cfg.Redis, e.log)
	if err != nil {
		return nil, nil, err
	}
	if client != nil {
		s.closers = append(s.closers, func() { _ = client.Close() })
		rs := notify.NewRedisSink(client, e.cfg.Redis.FeedLength)
		out = append(out, rs)
		feed = rs
	}

	if e.cfg.NATS.URL != "" {
		conn, err := notify.ConnectNATS(e.cfg.NATS.URL, e.log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		})
		out = append(out, notify.NewNATSSink(conn, e.cfg.NATS.SubjectPrefix))
	}
	return out, feed, nil
}

func newServer(ctx context.Context, e *env) (*server, error) {
	s := &server{}
	sinkList, feed, err := sinks(ctx, e, s)
	if err != nil {
		s.close()
		return nil, err
	}
	names := make([]string, 0, len(sinkList))
	for _, sk := range sinkList {
		names = append(names, sk.Name())
	}
	e.log.Info("notification sinks", zap.Strings("sinks", names))

	dispatcher := notify.NewDispatcher(e.tables, e.log, sinkList...)
	// Closers run in reverse, so pending deliveries finish before the sinks close.
	s.closers = append(s.closers, dispatcher.Wait)
	manager := lifecycle.NewManager(e.tables, dispatcher, e.log)
	market := marketplace.New(e.tables, dispatcher, e.log)

	deps := controllers.Deps{
		Bookings:      manager,
		Market:        market,
		Notifications: dispatcher,
		Auth:          middleware.NewAuth(e.cfg.Secret(), e.cfg.Auth.TokenTTL, e.cfg.Auth.RefreshTTL, e.tables.Users, e.log),
		Feed:          feed,
		Log:           e.log,
	}
	if e.cfg.Cloudinary.CloudName != "" {
		uploader, err := utils.NewUploader(e.cfg.Cloudinary)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("configure cloudinary: %w", err)
		}
		deps.Uploader = uploader
	}

	if e.cfg.Cron.Enabled {
		s.scheduler, err = cron.New(e.cfg.Cron, cron.Jobs{
			Tables:     e.tables,
			Notifier:   dispatcher,
			Reconciler: manager,
			Metrics:    market.Analytics,
		}, e.log)
		if err != nil {
			s.close()
			return nil, err
		}
	}

	report, err := manager.Reconcile(ctx)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("startup reconcile: %w", err)
	}
	e.log.Info("startup reconcile finished",
		zap.Int("pending", report.Pending), zap.Int("completed", report.Completed), zap.Int("failed", report.Failed))

	s.app = fiber.New(fiber.Config{AppName: "service-marketplace"})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: e.cfg.Server.AllowOrigins,
	}))
	routes.Setup(s.app, controllers.New(deps))
	return s, nil
}

func runServe(ctx context.Context, opts *RootOptions) error {
	e, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := newServer(ctx, e)
	if err != nil {
		return err
	}
	defer s.close()

	if s.scheduler != nil {
		s.scheduler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + e.cfg.Server.Port
		e.log.Info("server started", zap.String("addr", addr))
		return s.app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		e.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if s.scheduler != nil {
			s.scheduler.Stop(shutdownCtx)
		}
		return s.app.ShutdownWithContext(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
