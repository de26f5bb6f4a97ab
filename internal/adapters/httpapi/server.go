// Package httpapi es el transporte HTTP del market maker: recibe subastas JIT
// y notificaciones de trades del venue, y expone estado para el operador.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alejandrodnm/jitmaker/internal/adapters/telemetry"
	"github.com/alejandrodnm/jitmaker/internal/application/orders"
	"github.com/alejandrodnm/jitmaker/internal/domain"
	"github.com/alejandrodnm/jitmaker/internal/ports"
)

const (
	maxBodyBytes        = 64 << 10
	defaultQuoteTimeout = 200 * time.Millisecond
)

// Quoter responde subastas.
type Quoter interface {
	Quote(ctx context.Context, req domain.AuctionRequest) (domain.QuoteResult, error)
}

// Notifications recibe trade notifications para procesarlas async.
type Notifications interface {
	Enqueue(n domain.TradeNotification) error
	Pending() int
}

// PositionLister devuelve las posiciones actuales.
type PositionLister interface {
	Positions() []domain.Position
}

// SlotLister devuelve el estado de los slots del order manager.
type SlotLister interface {
	Slots(ctx context.Context) ([]orders.SlotView, error)
}

// MetricsReader lee los contadores actuales.
type MetricsReader interface {
	Snapshot(ctx context.Context) ([]telemetry.Point, error)
}

// Config controla el transporte.
type Config struct {
	AllowedOrigins []string      // "*" permite cualquiera
	QuoteTimeout   time.Duration // presupuesto por subasta
}

// Deps agrupa los componentes que sirve la API. Universe, Journal, Metrics y
// Telemetry son opcionales.
type Deps struct {
	Universe      *domain.Universe
	Quoter        Quoter
	Notifications Notifications
	Positions     PositionLister
	Slots         SlotLister
	Journal       ports.QuoteJournal
	Metrics       ports.Metrics
	Telemetry     MetricsReader
}

// Server expone los endpoints.
type Server struct {
	cfg  Config
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

// NewServer crea el server y registra las rutas.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = defaultQuoteTimeout
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	s := &Server{cfg: cfg, deps: deps, mux: http.NewServeMux(), now: time.Now}
	s.routes()
	return s
}

// WithClock sustituye el reloj (tests).
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler devuelve el router con CORS y logging aplicados.
func (s *Server) Handler() http.Handler {
	return s.cors(s.logRequests(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /jit-auction", s.handleAuction)
	s.mux.HandleFunc("POST /trade-notification", s.handleNotification)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /positions", s.handlePositions)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "timestamp": s.now().Unix()}
	if s.deps.Notifications != nil {
		body["pending_notifications"] = s.deps.Notifications.Pending()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Telemetry == nil {
		http.NotFound(w, r)
		return
	}
	points, err := s.deps.Telemetry.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("httpapi: write response failed", "err", err)
	}
}

// decode lee un body JSON acotado a maxBodyBytes.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.NewValidationError("body", "larger than %d bytes", maxBodyBytes)
		}
		return domain.NewValidationError("body", "malformed JSON: %v", err)
	}
	return nil
}

func validationMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}
