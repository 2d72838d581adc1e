package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"example.com/territory/internal/auth"
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRateLimit bounds inbound events per connection. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) HandlerOption {
	return func(h *Handler) {
		h.rate = rate.Limit(perSecond)
		h.burst = burst
	}
}

// WithCheckOrigin replaces the default allow-all origin check.
func WithCheckOrigin(check func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = check
	}
}

// Handler authenticates the upgrade request and serves a session over the socket.
type Handler struct {
	engine   *Engine
	auth     auth.Config
	upgrader websocket.Upgrader
	rate     rate.Limit
	burst    int
	logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(engine *Engine, authCfg auth.Config, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine: engine,
		auth:   authCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP rejects unauthenticated requests with 401 before upgrading.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, subprotocol := auth.TokenFromRequest(r)
	claims, err := auth.Parse(token, h.auth)
	if err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("socket authentication rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var header http.Header
	if subprotocol != "" {
		header = http.Header{}
		header.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	connID := uuid.NewString()
	logger := h.logger.With().Str("conn_id", connID).Str("user_id", claims.UserID()).Logger()

	var limiter *rate.Limiter
	if h.rate > 0 {
		burst := h.burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(h.rate, burst)
	}

	c := newClient(connID, conn, limiter, logger)
	session := h.engine.NewSession(connID, claims.UserID(), claims.DisplayName, c)
	logger.Info().Msg("socket connected")
	c.run(r.Context(), session)
	logger.Info().Msg("socket disconnected")
}
