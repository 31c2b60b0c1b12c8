package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-campaign-bot/internal/domain/model"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/ratelimit"
	"telegram-campaign-bot/internal/infra/worker"
	"telegram-campaign-bot/internal/usecase"
)

// LimiterOps is what the ops API reads from and does to the rate limiter.
type LimiterOps interface {
	Stats() ratelimit.Stats
	ResetBackoff()
}

// CampaignLookup finds a campaign before a dispatch is queued.
type CampaignLookup interface {
	Get(ctx context.Context, tx repository.Tx, campaignID, ownerID string) (*model.Campaign, error)
}

// TaskSubmitter queues background work; *worker.Pool implements it.
type TaskSubmitter interface {
	Submit(ctx context.Context, task worker.Task) error
}

type Server struct {
	ownerID    string
	limiter    LimiterOps
	campaigns  CampaignLookup
	dispatcher usecase.CampaignDispatcher
	pool       TaskSubmitter
	auth       *AuthManager
	// submitWait bounds how long a dispatch request waits for pool capacity.
	submitWait time.Duration
	log        *zerolog.Logger
}

func NewServer(
	ownerID string,
	limiter LimiterOps,
	campaigns CampaignLookup,
	dispatcher usecase.CampaignDispatcher,
	pool TaskSubmitter,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	compLog := logger.With().Str("component", "OpsAPI").Logger()
	return &Server{
		ownerID:    ownerID,
		limiter:    limiter,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		pool:       pool,
		auth:       auth,
		submitWait: 2 * time.Second,
		log:        &compLog,
	}
}

// Routes builds the router: /health and /metrics are open, /api/v1 needs an admin token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(traceID, recoverer(s.log), requestLog(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.RequireAdmin)
		r.Get("/limiter", s.handleLimiterStats)
		r.Post("/limiter/reset", s.handleLimiterReset)
		r.Post("/campaigns/{id}/dispatch", s.handleDispatch)
	})
	return r
}

// ListenAndServe serves on port until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", port).Msg("ops API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
