package handlers

import (
	"net/http"
	"strconv"

	"github.com/BradenHooton/honeypot/internal/models"
	pkghttp "github.com/BradenHooton/honeypot/pkg/http"
)

// StatsProvider defines the statistics contract.
type StatsProvider interface {
	Snapshot(topN int) models.StatsSnapshot
}

// SessionCounter reports live sessions and whether they are being drained.
type SessionCounter interface {
	Active() int
	ShuttingDown() bool
}

// StatsQuery holds the query parameters of GET /stats
type StatsQuery struct {
	Top int `query:"top" validate:"gte=1,lte=100"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}

// StatsHandler handles operator statistics HTTP requests.
type StatsHandler struct {
	stats      StatsProvider
	sessions   SessionCounter
	defaultTop int
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(stats StatsProvider, sessions SessionCounter, defaultTop int) *StatsHandler {
	return &StatsHandler{stats: stats, sessions: sessions, defaultTop: defaultTop}
}

// GetStats handles GET /stats
// Accepts optional query param ?top=N (1–100, default from configuration).
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	query := StatsQuery{Top: h.defaultTop}
	if t := r.URL.Query().Get("top"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil {
			pkghttp.WriteBadRequest(w, "top must be an integer")
			return
		}
		query.Top = n
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.stats.Snapshot(query.Top))
}

// Health handles GET /health. It answers 503 once shutdown has begun.
func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.sessions.ShuttingDown() {
		pkghttp.WriteServiceUnavailable(w, "shutting down")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ActiveSessions: h.sessions.Active(),
	})
}
