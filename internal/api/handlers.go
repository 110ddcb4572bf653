package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/store"
)

// RegisterRoutes registers all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /livez", s.handleLive)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/state", s.handleState)
	mux.HandleFunc("GET /api/v1/journal", s.handleJournal)
	mux.HandleFunc("GET /ws/journal", s.hub.HandleWebSocket)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.src == nil || !s.src.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Ready         bool   `json:"ready"`
	UptimeSec     int64  `json:"uptime_sec"`
	LastCycleUnix int64  `json:"last_cycle_unix"`
	Day           string `json:"day,omitempty"`
	DayLocked     bool   `json:"day_locked"`
	WSClients     int    `json:"ws_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		UptimeSec: int64(s.now().Sub(s.started).Seconds()),
		WSClients: s.hub.Len(),
	}
	if s.src != nil {
		resp.Ready = s.src.Ready()
		if t := s.src.LastCycle(); !t.IsZero() {
			resp.LastCycleUnix = t.Unix()
		}
		v := s.src.View()
		resp.Day = v.Day.Day
		resp.DayLocked = v.Day.Locked
	}
	writeJSON(w, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.src == nil {
		writeError(w, http.StatusServiceUnavailable, "state not available")
		return
	}
	writeJSON(w, s.src.View())
}

// handleJournal serves one session day of the journal: ?day=YYYY-MM-DD,
// defaulting to today in the session timezone.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not available")
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = store.DayKey(s.now(), s.loc)
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}
	recs, err := s.journal.ReadDay(r.Context(), day)
	if err != nil {
		s.log.Error("reading journal", "day", day, "error", err)
		writeError(w, http.StatusInternalServerError, "reading journal failed")
		return
	}
	if recs == nil {
		recs = []domain.JournalRecord{}
	}
	writeJSON(w, JournalResponse{Day: day, Records: recs})
}

// JournalResponse is the body of /api/v1/journal.
type JournalResponse struct {
	Day     string                 `json:"day"`
	Records []domain.JournalRecord `json:"records"`
}
