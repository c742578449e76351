package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/model"
	"voice-calendar-pipeline/internal/domain/ports/repository"
	"voice-calendar-pipeline/internal/infra/metrics"
)

type dlqEntryView struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	MessageID string    `json:"message_id"`
	Stage     string    `json:"stage"`
	Attempt   int       `json:"attempt"`
	Cause     string    `json:"cause"`
	FailedAt  time.Time `json:"failed_at"`
}

func toDLQView(e *repository.DeadLetterEntry) dlqEntryView {
	return dlqEntryView{
		ID:        e.ID,
		JobID:     e.Job.ID,
		MessageID: e.Job.MessageID,
		Stage:     string(e.Job.Stage),
		Attempt:   e.Job.Attempt,
		Cause:     e.Cause,
		FailedAt:  e.FailedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDLQList(w http.ResponseWriter, r *http.Request) {
	f := repository.DLQFilter{
		Stage:     model.Stage(r.URL.Query().Get("stage")),
		MessageID: r.URL.Query().Get("message_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.dlqUC.List(r.Context(), f)
	if err != nil {
		s.writeInternal(w, err, "list dead letters")
		return
	}
	views := make([]dlqEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toDLQView(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) handleDLQRequeue(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")
	job, err := s.dlqUC.Requeue(r.Context(), entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dead letter entry not found")
			return
		}
		s.writeInternal(w, err, "requeue dead letter")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"stage":   string(job.Stage),
		"attempt": job.Attempt,
	})
}

func (s *Server) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "id")
	if err := s.dlqUC.Delete(r.Context(), entryID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dead letter entry not found")
			return
		}
		s.writeInternal(w, err, "delete dead letter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDLQPurge(w http.ResponseWriter, r *http.Request) {
	retention := s.dlqRetention
	if r.Body != nil && r.ContentLength > 0 {
		var body struct {
			OlderThan string `json:"older_than"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if body.OlderThan != "" {
			d, err := time.ParseDuration(body.OlderThan)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "older_than must be a positive duration")
				return
			}
			retention = d
		}
	}

	removed, err := s.dlqUC.PurgeOlderThan(r.Context(), retention)
	if err != nil {
		s.writeInternal(w, err, "purge dead letters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleQueueDepths(w http.ResponseWriter, r *http.Request) {
	depths, err := s.statsUC.QueueDepths(r.Context())
	if err != nil {
		s.writeInternal(w, err, "queue depths")
		return
	}
	dlqSize, err := s.statsUC.DLQSize(r.Context())
	if err != nil {
		s.writeInternal(w, err, "dlq size")
		return
	}
	parked, err := s.statsUC.AwaitingClarification(r.Context())
	if err != nil {
		s.writeInternal(w, err, "awaiting clarification")
		return
	}

	byStage := make(map[string]int, len(depths))
	for stage, n := range depths {
		byStage[string(stage)] = n
		metrics.SetQueueDepth(string(stage), n)
	}
	metrics.SetDLQSize(dlqSize)

	writeJSON(w, http.StatusOK, map[string]any{
		"depths":                 byStage,
		"dlq":                    dlqSize,
		"awaiting_clarification": parked,
	})
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.statsUC.JobByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeInternal(w, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleWorkersPause(w http.ResponseWriter, r *http.Request) {
	s.workers.Pause()
	s.log.Warn().Msg("worker pool paused by operator")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleWorkersResume(w http.ResponseWriter, r *http.Request) {
	s.workers.Resume()
	s.log.Info().Msg("worker pool resumed by operator")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) writeInternal(w http.ResponseWriter, err error, op string) {
	s.log.Error().Err(err).Str("op", op).Msg("operator api request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
