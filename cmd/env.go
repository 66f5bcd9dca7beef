package main

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/extract"
	"github.com/sells-group/meeting-ingest/internal/fetcher"
	"github.com/sells-group/meeting-ingest/internal/ingest"
	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/reconcile"
	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/internal/store"
	"github.com/sells-group/meeting-ingest/internal/summary"
	"github.com/sells-group/meeting-ingest/internal/transcript"
	anthropicpkg "github.com/sells-group/meeting-ingest/pkg/anthropic"
)

// appEnv holds the store, fetcher and queue shared by the commands.
type appEnv struct {
	Store    store.Store
	Pages    *fetcher.HTTPFetcher
	Queue    jobs.Queue // nil when queue.backend is "none"
	Temporal client.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// connects the job queue. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{Store: st, Pages: initFetcher()}
	if err := env.initQueue(); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "meetings.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:  cfg.Fetch.MaxRetries,
		BackoffBase: time.Duration(cfg.Fetch.BackoffBaseMs) * time.Millisecond,
	})
}

func (e *appEnv) initQueue() error {
	switch cfg.Queue.Backend {
	case "store":
		e.Queue = jobs.NewStoreQueue(e.Store, cfg.Queue.MaxAttempts)
	case "temporal":
		c, err := jobs.DialTemporal(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		e.Temporal = c
		e.Queue = jobs.NewTemporalQueue(c, cfg.Temporal.TaskQueue)
	case "none":
		zap.L().Info("job queue disabled; transcripts and summaries will not be queued")
	default:
		return eris.Errorf("unsupported queue backend: %s", cfg.Queue.Backend)
	}
	return nil
}

func (e *appEnv) orchestrator() *ingest.Orchestrator {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Extract.OEmbedFailureThreshold,
		ResetTimeout:     time.Duration(cfg.Extract.OEmbedResetTimeoutSecs) * time.Second,
		ShouldTrip:       resilience.IsTransient,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("oembed circuit state change", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	reconciler := reconcile.New()
	reconciler.KeepStoredDateOnClockFallback = cfg.Ingest.KeepStoredDateOnClockFallback
	return ingest.New(
		e.Store,
		e.Pages,
		extract.Default(e.Pages, cfg.Extract.OEmbedEndpoint, breaker),
		reconciler,
		e.Queue,
		ingest.Options{
			MaxConcurrentMunicipalities: cfg.Ingest.MaxConcurrentMunicipalities,
			VideoInterval:               time.Duration(cfg.Ingest.VideoIntervalMs) * time.Millisecond,
			WatchURLPrefix:              cfg.Ingest.WatchURLPrefix,
		},
	)
}

// handlers builds the job handlers. chain controls whether a stored
// transcript queues its own summary job; Temporal workflows chain the
// steps themselves.
func (e *appEnv) handlers(chain bool) (*jobs.Handlers, error) {
	fetch, err := transcript.New(transcript.Options{
		Enabled:        cfg.Transcript.Enabled,
		Mode:           transcript.Mode(cfg.Transcript.Mode),
		Languages:      cfg.Transcript.Languages,
		WatchURLPrefix: cfg.Ingest.WatchURLPrefix,
		Command:        cfg.Transcript.Command,
		WorkDir:        cfg.Transcript.WorkDir,
		Timeout:        time.Duration(cfg.Transcript.TimeoutSecs) * time.Second,
	}, e.Pages)
	if err != nil {
		return nil, err
	}

	var sum jobs.Summarizer
	if cfg.Anthropic.Key != "" {
		var opts []option.RequestOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		sum = summary.New(anthropicpkg.NewClient(cfg.Anthropic.Key, opts...), summary.Options{
			Model:              cfg.Anthropic.Model,
			MaxTokens:          cfg.Anthropic.MaxTokens,
			MaxTranscriptChars: cfg.Anthropic.MaxTranscriptChars,
		})
	} else {
		zap.L().Warn("MEETINGS_ANTHROPIC_KEY not set, summary jobs will fail")
	}

	var queue jobs.Queue
	if chain {
		queue = e.Queue
	}
	return jobs.NewHandlers(e.Store, fetch, sum, queue), nil
}
