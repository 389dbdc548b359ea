package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatmem/internal/ledger"
	"threatmem/internal/metrics"
	"threatmem/internal/model"
	"threatmem/internal/predict"
	"threatmem/internal/store"
)

// Server exposes the engine over HTTP.
type Server struct {
	store  *store.TierStore
	ledger *ledger.Ledger
	engine *predict.Engine
	cfg    *Config
	router *mux.Router
}

func New(ts *store.TierStore, lg *ledger.Ledger, eng *predict.Engine, cfg *Config) *Server {
	s := &Server{store: ts, ledger: lg, engine: eng, cfg: cfg, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/threats", s.handleIngest).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/threats/hot", s.handleHotThreats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/threats/{id}", s.handleGetThreat).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/threats/{id}/interactions", s.handleInteraction).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/memories/top", s.handleTopThreats).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/predict", s.handlePredict).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/exports/pending", s.handlePendingExports).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/exports/{memory_id}/ack", s.handleAckExport).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler { return s.router }

// StartMetrics serves the Prometheus endpoint on its own listener.
func (s *Server) StartMetrics(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

type ingestRequest struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Severity model.Severity    `json:"severity"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	rec, err := s.store.Ingest(r.Context(), req.ID, req.Content, req.Severity, req.Metadata, time.Now())
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec.Snapshot())
}

func (s *Server) handleGetThreat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, tier, err := s.store.Resolve(r.Context(), id, time.Now())
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		model.ThreatSnapshot
		TierFound model.Tier `json:"tier_found"`
	}{rec.Snapshot(), tier})
}

type interactionRequest struct {
	AnalystID        string           `json:"analyst_id"`
	Action           model.ActionType `json:"action_type"`
	TimeSpentSeconds int              `json:"time_spent_seconds"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	score, err := s.ledger.Record(r.Context(), id, req.AnalystID, req.Action, req.TimeSpentSeconds, time.Now())
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threat_id": id, "score": score})
}

func (s *Server) handleHotThreats(w http.ResponseWriter, r *http.Request) {
	min := int64(1)
	if raw := r.URL.Query().Get("min_interactions"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_interactions")
			return
		}
		min = v
	}
	records := s.store.HotThreats(min, time.Now())
	out := make([]model.ThreatSnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTopThreats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = v
	}
	var memories []*model.LongTermMemory
	var err error
	if industry := r.URL.Query().Get("industry"); industry != "" {
		memories, err = s.store.LongTerm().ByIndustry(r.Context(), industry)
	} else {
		memories, err = s.store.LongTerm().TopByScore(r.Context(), limit)
	}
	if err != nil {
		writeModelError(w, err)
		return
	}
	if memories == nil {
		memories = []*model.LongTermMemory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

type predictRequest struct {
	AnalystID string `json:"analyst_id"`
	ThreatID  string `json:"threat_id"`
	// Threat carries an inline, not-yet-ingested threat to rank. Either
	// threat_id or threat must be set.
	Threat *ingestRequest `json:"threat,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.AnalystID == "" || (req.ThreatID == "" && req.Threat == nil) {
		writeError(w, http.StatusBadRequest, "analyst_id and threat_id (or an inline threat) are required")
		return
	}

	if req.Threat != nil {
		rec, err := model.NewThreatRecord(req.Threat.ID, req.Threat.Content, req.Threat.Severity, req.Threat.Metadata, time.Now())
		if err != nil {
			writeModelError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.PredictRecord(r.Context(), req.AnalystID, rec))
		return
	}

	res, err := s.engine.Predict(r.Context(), req.AnalystID, req.ThreatID)
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePendingExports(w http.ResponseWriter, r *http.Request) {
	memories, err := s.store.LongTerm().PendingExports(r.Context())
	if err != nil {
		writeModelError(w, err)
		return
	}
	if memories == nil {
		memories = []*model.LongTermMemory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

func (s *Server) handleAckExport(w http.ResponseWriter, r *http.Request) {
	memoryID := mux.Vars(r)["memory_id"]
	if err := s.store.LongTerm().MarkExported(r.Context(), memoryID); err != nil {
		writeModelError(w, err)
		return
	}
	metrics.ExportsAckedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"memory_id": memoryID, "exported": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.TierStats(r.Context())
	if err != nil {
		writeModelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":        st,
		"interactions": s.ledger.Total(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeModelError maps the error taxonomy onto HTTP statuses.
func writeModelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrStorageUnavailable):
		slog.Error("storage unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		slog.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
