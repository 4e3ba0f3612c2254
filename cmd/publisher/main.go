package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/appfoundry/publisher/pkg/builder"
	"github.com/appfoundry/publisher/pkg/config"
	"github.com/appfoundry/publisher/pkg/generator"
	"github.com/appfoundry/publisher/pkg/github"
	"github.com/appfoundry/publisher/pkg/history"
	"github.com/appfoundry/publisher/pkg/httpapi"
	"github.com/appfoundry/publisher/pkg/notifier"
	"github.com/appfoundry/publisher/pkg/results"
	"github.com/appfoundry/publisher/pkg/tasks"
	"github.com/appfoundry/publisher/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer("publisher")
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	hosting := github.NewClient(cfg.GitHubToken, cfg.GitHubOwner)
	checkGitHubToken(ctx, hosting, cfg.RequireGitHubToken)

	var mirror *results.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		mirror, err = results.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis mirror init failed: %v", err)
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}
	cache := results.NewCache(mirror)

	var hist *history.PostgresStore
	if strings.TrimSpace(cfg.HistoryDatabaseURL) != "" {
		hist, err = history.NewPostgresStore(cfg.HistoryDatabaseURL)
		if err != nil {
			log.Fatalf("history postgres init failed: %v", err)
		}
		defer func() {
			if err := hist.Close(); err != nil {
				log.Printf("history postgres close error: %v", err)
			}
		}()
	}

	gen := generator.New(generator.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	orch := builder.New(gen, hosting, cache, hist, builder.Options{
		Owner:       cfg.GitHubOwner,
		Timeout:     cfg.BuildTimeout,
		Concurrency: cfg.BuildConcurrency,
	})

	sup := tasks.NewSupervisor()
	srv := httpapi.NewServer(httpapi.Config{
		SharedSecret: cfg.SharedSecret,
		StaticDir:    cfg.StaticDir,
	}, orch, notifier.New(cfg.NotifyDeadline), hosting, cache, hist, sup)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("publisher shutdown error: %v", err)
		}
	}()

	log.Printf("publisher listening on %s", cfg.ListenAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("publisher listen failed: %v", err)
	}

	// Give detached builds and notifications a moment to finish.
	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("shutting down with background tasks still running")
	}

	log.Println("publisher stopped")
}

// checkGitHubToken validates the hosting credential at startup: fatal when
// the deployment requires it, a log line otherwise.
func checkGitHubToken(ctx context.Context, hosting *github.Client, required bool) {
	user, err := hosting.AuthenticatedUser(ctx)
	if err != nil {
		if required {
			log.Fatalf("github token validation failed at startup: %v", err)
		}
		log.Printf("github token not validated at startup (set PUBLISHER_REQUIRE_GITHUB_TOKEN=1 to fail fast): %v", err)
		return
	}
	log.Printf("github token validated for user: %s", user)
}
