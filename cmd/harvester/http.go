package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"token-harvester/internal/collector"
	"token-harvester/internal/discovery"
	"token-harvester/internal/domain"
	"token-harvester/internal/drift"
	"token-harvester/internal/features"
	"token-harvester/internal/observability"
	"token-harvester/internal/storage"
)

// maxHistory caps ?history=N on the report endpoints.
const maxHistory = 100

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler(s.registry))
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("GET /reports/quality", s.handleQualityReport)
	mux.HandleFunc("GET /reports/drift", s.handleDriftReport)
	mux.HandleFunc("GET /reports/drift/features/{feature}/history", s.handleFeatureHistory)
	mux.HandleFunc("POST /baseline/reset", s.handleResetBaseline)

	mux.HandleFunc("GET /watch", s.handleListWatch)
	mux.HandleFunc("POST /watch", s.handleAddWatch)
	mux.HandleFunc("DELETE /watch/{mint}", s.handleRemoveWatch)
	mux.HandleFunc("POST /watch/{mint}/prediction", s.handlePrediction)
	mux.HandleFunc("POST /watch/{mint}/event", s.handleEvent)
	return mux
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status    string           `json:"status"`
	Uptime    string           `json:"uptime"`
	StartedAt time.Time        `json:"started_at"`
	Collector collector.Stats  `json:"collector"`
	Discovery *discovery.Stats `json:"discovery,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.startedAt).Truncate(time.Second).String(),
		StartedAt: s.startedAt,
		Collector: s.collector.Stats(),
	}
	if s.feed != nil {
		st := s.feed.Stats()
		resp.Discovery = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQualityReport(w http.ResponseWriter, r *http.Request) {
	n, ok := historyParam(w, r)
	if !ok {
		return
	}
	if n > 0 {
		list, err := s.quality.History(r.Context(), n)
		s.respond(w, list, err)
		return
	}
	report, err := s.quality.Latest(r.Context())
	s.respond(w, report, err)
}

func (s *Server) handleDriftReport(w http.ResponseWriter, r *http.Request) {
	n, ok := historyParam(w, r)
	if !ok {
		return
	}
	if n > 0 {
		list, err := s.drift.History(r.Context(), n)
		s.respond(w, list, err)
		return
	}
	report, err := s.drift.Latest(r.Context())
	s.respond(w, report, err)
}

func (s *Server) handleFeatureHistory(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("feature")
	if features.Index(name) < 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown feature " + strconv.Quote(name)})
		return
	}
	hist, err := s.drift.FeatureHistory(r.Context(), name)
	if hist == nil {
		hist = []*domain.DistributionSnapshot{}
	}
	s.respond(w, hist, err)
}

// handleResetBaseline rebuilds the drift baselines from the current rows,
// typically right after the model was retrained on them.
func (s *Server) handleResetBaseline(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.drift.ResetBaseline(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("drift baseline reset", zap.Int("features", len(baselines)))
	writeJSON(w, http.StatusOK, map[string]any{
		"features":  len(baselines),
		"baselines": baselines,
	})
}

// watchRequest is the body of POST /watch.
type watchRequest struct {
	Mint             string  `json:"mint"`
	Symbol           string  `json:"symbol"`
	Source           string  `json:"source"`
	LiquidityUsd     float64 `json:"liquidity_usd"`
	IsHighPotential  bool    `json:"is_high_potential"`
	HasPrediction    bool    `json:"has_prediction"`
	PredictedOutcome string  `json:"predicted_outcome"`
}

// trackedView is the JSON form of a tracked token.
type trackedView struct {
	Mint             string              `json:"mint"`
	Symbol           string              `json:"symbol,omitempty"`
	Source           string              `json:"source"`
	Tier             domain.SamplingTier `json:"tier"`
	IntervalSeconds  int                 `json:"interval_seconds"`
	SnapshotCount    int                 `json:"snapshot_count"`
	HasPrediction    bool                `json:"has_prediction"`
	PredictedOutcome string              `json:"predicted_outcome,omitempty"`
	LastEventType    domain.EventType    `json:"last_event_type,omitempty"`
	AddedAt          time.Time           `json:"added_at"`
	ExpiresAt        time.Time           `json:"expires_at"`
	LastSnapshotAt   *time.Time          `json:"last_snapshot_at,omitempty"`
}

func viewOf(st domain.TrackedTokenState) trackedView {
	v := trackedView{
		Mint:             st.Mint,
		Symbol:           st.Symbol,
		Source:           st.Source,
		Tier:             st.Tier,
		IntervalSeconds:  st.CurrentIntervalSeconds,
		SnapshotCount:    st.SnapshotCount,
		HasPrediction:    st.HasPrediction,
		PredictedOutcome: st.PredictedOutcome,
		LastEventType:    st.LastEventType,
		AddedAt:          st.AddedAt,
		ExpiresAt:        st.ExpiresAt,
	}
	if v.IntervalSeconds == 0 {
		v.IntervalSeconds = st.Config.IntervalSeconds
	}
	if !st.LastSnapshotAt.IsZero() {
		at := st.LastSnapshotAt
		v.LastSnapshotAt = &at
	}
	return v
}

func (s *Server) handleListWatch(w http.ResponseWriter, r *http.Request) {
	tokens := s.collector.TrackedTokens()
	out := make([]trackedView, 0, len(tokens))
	for _, st := range tokens {
		out = append(out, viewOf(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}
	res, err := s.collector.AddToken(r.Context(), collector.TokenRequest{
		Mint:             req.Mint,
		Symbol:           req.Symbol,
		Source:           req.Source,
		LiquidityUsd:     req.LiquidityUsd,
		IsHighPotential:  req.IsHighPotential,
		HasPrediction:    req.HasPrediction,
		PredictedOutcome: req.PredictedOutcome,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"token":   viewOf(res.State),
		"added":   res.Added,
		"evicted": res.Evicted,
	})
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	if err := s.collector.RemoveToken(r.Context(), r.PathValue("mint")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Outcome string `json:"outcome"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	st, err := s.collector.MarkHasPrediction(r.Context(), r.PathValue("mint"), body.Outcome)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.InterestingEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	if !ev.Type.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown event type " + strconv.Quote(string(ev.Type))})
		return
	}
	out, err := s.collector.MarkInterestingEvent(r.Context(), r.PathValue("mint"), ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// out is nil when the event did not warrant an immediate sample.
	writeJSON(w, http.StatusAccepted, map[string]any{
		"sampled": out != nil,
		"outcome": out,
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collector.ErrInvalidMint):
		status = http.StatusBadRequest
	case errors.Is(err, collector.ErrNotTracked), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, drift.ErrInsufficientData):
		status = http.StatusConflict
	default:
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func historyParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("history")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "history must be a positive integer"})
		return 0, false
	}
	return min(n, maxHistory), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
