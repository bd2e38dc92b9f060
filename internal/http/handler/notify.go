package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nudge/internal/auth"
	"nudge/internal/entity"
	"nudge/internal/job"
	"nudge/internal/policy"
	"nudge/internal/suppress"
)

// Notifier is the engine facade the API drives.
type Notifier interface {
	Available() bool
	Schedule(ctx context.Context, seq policy.SequenceName, entityID, fundID string, anchor time.Time) error
	OnTransition(ctx context.Context, f job.Family, entityID string, to, from entity.State) []suppress.Outcome
	Cancel(ctx context.Context, key string) (bool, error)
}

type NotifyHandler struct {
	Svc Notifier
}

type scheduleReq struct {
	Sequence string `json:"sequence"`
	EntityID string `json:"entity_id"`
	FundID   string `json:"fund_id"`
	Anchor   string `json:"anchor"` // RFC3339
}

func (h *NotifyHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.EntityID == "" {
		http.Error(w, "entity_id required", http.StatusBadRequest)
		return
	}
	anchor, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Anchor))
	if err != nil {
		http.Error(w, "invalid anchor (RFC3339)", http.StatusBadRequest)
		return
	}

	seq := policy.SequenceName(strings.TrimSpace(req.Sequence))
	if err := h.Svc.Schedule(r.Context(), seq, req.EntityID, strings.TrimSpace(req.FundID), anchor); err != nil {
		if errors.Is(err, policy.ErrUnknownSequence) {
			http.Error(w, "unknown sequence", http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	caller, _ := auth.ServiceFromContext(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sequence":        seq,
		"entity_id":       req.EntityID,
		"queue_available": h.Svc.Available(),
		"caller":          caller,
	})
}

type transitionReq struct {
	Family   string `json:"family"`
	EntityID string `json:"entity_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

type outcomeDTO struct {
	Key       string `json:"key"`
	Cancelled bool   `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

func (h *NotifyHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	f := job.Family(strings.TrimSpace(req.Family))
	if !f.Valid() {
		http.Error(w, "unknown family", http.StatusBadRequest)
		return
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	to := entity.State(strings.TrimSpace(req.To))
	if req.EntityID == "" || to == "" {
		http.Error(w, "entity_id and to required", http.StatusBadRequest)
		return
	}

	outcomes := h.Svc.OnTransition(r.Context(), f, req.EntityID, to, entity.State(strings.TrimSpace(req.From)))
	out := make([]outcomeDTO, 0, len(outcomes))
	for _, o := range outcomes {
		d := outcomeDTO{Key: o.Key, Cancelled: o.Cancelled}
		if o.Err != nil {
			d.Error = o.Err.Error()
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"outcomes": out})
}

func (h *NotifyHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ok, err := h.Svc.Cancel(r.Context(), key)
	if err != nil {
		http.Error(w, "invalid job key", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "cancelled": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
