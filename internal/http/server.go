// Package http exposes the gateway's REST surface: health, pairing QR,
// connection control, message sending and chat history.
package http

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/connection"
	"github.com/nextlevelbuilder/wagate/internal/whatsapp"
)

// QRRenderer converts a pairing payload into an image data URL.
type QRRenderer interface {
	DataURL(payload string) (string, error)
}

// Options wires the server's collaborators.
type Options struct {
	Gateway   config.GatewayConfig
	ChatLimit int
	Client    whatsapp.Client
	Tracker   *connection.Tracker
	Renderer  QRRenderer
	Bus       *bus.MessageBus
}

// Server holds the handlers' shared dependencies.
type Server struct {
	cfg       config.GatewayConfig
	chatLimit int
	client    whatsapp.Client
	tracker   *connection.Tracker
	renderer  QRRenderer
	bus       *bus.MessageBus
	limiter   *RateLimiter
	upgrader  websocket.Upgrader
	token     atomic.Value // string
}

// NewServer creates a server. The API token is taken from opts.Gateway.Token
// and can be replaced later with SetToken.
func NewServer(opts Options) *Server {
	s := &Server{
		cfg:       opts.Gateway,
		chatLimit: opts.ChatLimit,
		client:    opts.Client,
		tracker:   opts.Tracker,
		renderer:  opts.Renderer,
		bus:       opts.Bus,
		limiter:   NewRateLimiter(opts.Gateway.RateLimitRPM, opts.Gateway.RateLimitBurst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if s.chatLimit <= 0 {
		s.chatLimit = 50
	}
	s.SetToken(opts.Gateway.Token)
	return s
}

// Run performs background upkeep until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.limiter.Run(ctx)
}

// SetToken swaps the API bearer token; safe while serving.
func (s *Server) SetToken(token string) {
	s.token.Store(token)
}

// Token returns the current API bearer token.
func (s *Server) Token() string {
	v, _ := s.token.Load().(string)
	return v
}

// Handler builds the full HTTP handler with routes and middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/qr", s.handleQRPage).Methods(http.MethodGet)
	if s.cfg.DownloadsDir != "" {
		r.PathPrefix("/downloads/").Handler(
			http.StripPrefix("/downloads/", http.FileServer(http.Dir(s.cfg.DownloadsDir))),
		).Methods(http.MethodGet, http.MethodHead)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.rateLimitMiddleware, s.authMiddleware)
	api.HandleFunc("/connection", s.handleConnection).Methods(http.MethodGet)
	api.HandleFunc("/connection/restart", s.handleRestart).Methods(http.MethodPost)
	api.HandleFunc("/send-message", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/chat/{number}", s.handleChat).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.bodySizeLimitMiddleware(h)
	h = corsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	h = s.requestIDMiddleware(h)
	return h
}

// clientIP returns the remote host of the request without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
