// Package gateway provides the HTTP surface of DocSentry: the provider
// webhook endpoint plus a small status API.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/ingest"
	"github.com/jholhewres/docsentry/pkg/docsentry/service"
)

// Config holds gateway configuration.
type Config struct {
	// Address is the listen address (e.g. ":8086").
	Address string `yaml:"address"`

	// AuthToken protects /api/* when non-empty. The webhook endpoint is
	// authenticated by the provider's verification token instead.
	AuthToken string `yaml:"auth_token"`

	// WebhookVerifyToken must match the token the provider echoes in every
	// pushed event and URL-verification challenge.
	WebhookVerifyToken string `yaml:"webhook_verify_token"`
}

// Gateway is the HTTP API server.
type Gateway struct {
	svc      *service.Service
	ingestor *ingest.Ingestor
	cfg      Config
	server   *http.Server
	logger   *slog.Logger
	started  time.Time
}

// New creates a Gateway.
func New(svc *service.Service, ingestor *ingest.Ingestor, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8086"
	}
	return &Gateway{
		svc:      svc,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With("component", "gateway"),
	}
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	g.started = time.Now()
	g.server = &http.Server{
		Addr:    g.cfg.Address,
		Handler: g.Handler(),
	}

	if g.cfg.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.cfg.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
				"address", g.cfg.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.cfg.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

// Handler assembles the route table and middleware chain. Exposed so tests
// can exercise the gateway without binding a port.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health (always public).
	mux.HandleFunc("/health", g.handleHealth)

	// Provider push endpoint, authenticated by the verification token.
	mux.HandleFunc("/webhook/docs", g.handleWebhook)

	// API routes.
	mux.HandleFunc("/api/tracked", g.handleTracked)
	mux.HandleFunc("/api/changes/", g.handleChanges)

	return g.securityHeadersMiddleware(g.authMiddleware(mux))
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
