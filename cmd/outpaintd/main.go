// Command outpaintd serves the image expansion API over a pool of
// externally provisioned browser profiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/alert"
	"github.com/veldt/outpaint/api"
	"github.com/veldt/outpaint/backoff"
	"github.com/veldt/outpaint/engine"
	"github.com/veldt/outpaint/expand"
	"github.com/veldt/outpaint/hook"
	"github.com/veldt/outpaint/imageio"
	"github.com/veldt/outpaint/middleware"
	"github.com/veldt/outpaint/pool"
	"github.com/veldt/outpaint/session"
	"github.com/veldt/outpaint/track"
)

func main() {
	configPath := flag.String("config", "outpaint.yaml", "path to the YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("service exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := outpaint.LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := session.NewAgentClient(cfg.AgentURL, logger,
		session.WithRetryCeiling(cfg.OpenRetryCeiling),
	)

	specs, err := bindProfiles(ctx, agent, &cfg, logger)
	if err != nil {
		return err
	}

	p := pool.New(specs, logger,
		pool.WithAcquireTimeout(cfg.AcquireTimeout),
		pool.WithRetryBackoff(backoff.NewConstant(cfg.AcquireBackoff)),
	)

	hooks := hook.NewRegistry(logger)
	tracker := track.New()
	if cfg.AlertWebhookURL != "" {
		notifier := alert.NewWebhook(cfg.AlertWebhookURL, logger,
			alert.WithChannelID(cfg.AlertChannelID),
		)
		hooks.Register(alert.NewEvictionAlerter(notifier))
	}

	eng := engine.New(p, agent, expand.New(logger), logger,
		engine.WithHooks(hooks),
		engine.WithTracker(tracker),
		engine.WithPolicy(engine.Policy{CreditThreshold: cfg.CreditThreshold}),
		engine.WithJobTimeout(cfg.AcquireTimeout),
		engine.WithMiddleware(
			middleware.Recover(logger),
			middleware.Tracing(),
			middleware.Metrics(),
			middleware.Logging(logger),
		),
	)

	store := imageio.NewStore(cfg.OutputRoot, logger)
	srv := api.New(eng, tracker, p, store, logger)

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.String("error", err.Error()))
		}

		hooks.EmitShutdown(shutdownCtx)
		p.Close()
		return nil
	})

	return g.Wait()
}

// bindProfiles matches configured worker names against the agent's live
// profiles and cycles each matched profile so no stale browser survives
// a restart. A configured name the agent does not know is fatal.
func bindProfiles(ctx context.Context, agent *session.AgentClient, cfg *outpaint.Config, logger *slog.Logger) ([]pool.Spec, error) {
	profiles, err := agent.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list browser profiles: %w", err)
	}
	byName := make(map[string]session.Profile, len(profiles))
	for _, pr := range profiles {
		byName[pr.Name] = pr
	}

	specs := make([]pool.Spec, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		pr, ok := byName[w.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q not known to agent", outpaint.ErrProfileNotFound, w.Name)
		}

		if err := agent.Close(ctx, pr.ID); err != nil {
			logger.Warn("closing stale profile",
				slog.String("profile", w.Name),
				slog.String("error", err.Error()),
			)
		}

		specs = append(specs, pool.Spec{
			Name:       w.Name,
			ExternalID: pr.ID,
			Capacity:   cfg.BucketCapacity(w),
			Refill:     cfg.BucketRefill(w),
		})
		logger.Info("profile bound",
			slog.String("worker", w.Name),
			slog.String("external_id", pr.ID),
		)
	}
	return specs, nil
}
