package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"telegram-campaign-bot/internal/domain"
	"telegram-campaign-bot/internal/domain/ports/repository"
	"telegram-campaign-bot/internal/infra/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleLimiterStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Stats())
}

func (s *Server) handleLimiterReset(w http.ResponseWriter, r *http.Request) {
	s.limiter.ResetBackoff()
	logging.With(r.Context(), s.log).Info().Msg("backoff reset by operator")
	writeJSON(w, http.StatusOK, s.limiter.Stats())
}

type dispatchResponse struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
}

// handleDispatch checks the campaign and queues its dispatch on the worker pool.
// Planning runs after the response; its outcome is logged.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithCampaignID(r.Context(), id)
	log := logging.With(ctx, s.log)

	c, err := s.campaigns.Get(ctx, repository.NoTX, id, s.ownerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Msg("campaign lookup failed")
		http.Error(w, "failed to load campaign", http.StatusInternalServerError)
		return
	case !c.Active:
		http.Error(w, "campaign is inactive", http.StatusConflict)
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.submitWait)
	defer cancel()
	err = s.pool.Submit(submitCtx, func(ctx context.Context) error {
		res, err := s.dispatcher.DispatchCampaign(ctx, s.ownerID, id)
		if err != nil {
			return err
		}
		log.Info().
			Int("targets", res.TotalTargets).
			Int("waves", res.WaveCount).
			Int("jobs", res.JobsQueued).
			Msg("campaign dispatched")
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("dispatch not queued")
		http.Error(w, "dispatch queue is busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, dispatchResponse{CampaignID: id, Status: "accepted"})
}
