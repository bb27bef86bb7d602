package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openmined/cmissync/internal/client/middleware"
)

type ControlPlaneServer struct {
	config *ControlPlaneConfig
	server *http.Server
	// ends the event streams still open on shutdown
	cancel context.CancelFunc
}

func NewControlPlaneServer(config *ControlPlaneConfig, client *Client) (*ControlPlaneServer, error) {
	if _, err := addrToURL(config.Addr); err != nil {
		return nil, err
	}

	routes := SetupRoutes(client, &RouteConfig{
		Auth: middleware.TokenAuthConfig{
			Token: config.AuthToken,
		},
	})

	baseCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:        config.Addr,
		Handler:     routes,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
		// Timeouts to prevent slow client attacks
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Connection control
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &ControlPlaneServer{
		config: config,
		server: httpServer,
		cancel: cancel,
	}, nil
}

func (s *ControlPlaneServer) Start(ctx context.Context) error {
	url, _ := addrToURL(s.config.Addr)
	slog.Info("control plane start", "addr", url, "token", s.config.AuthToken != "")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (s *ControlPlaneServer) Stop(ctx context.Context) error {
	slog.Info("control plane stop")
	s.cancel()
	return s.server.Shutdown(ctx)
}

// addrToURL turns a host:port listen address into the url clients use
func addrToURL(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid control plane address %q: %w", addr, err)
	}
	if port == "" {
		return "", fmt.Errorf("invalid control plane address %q: missing port", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}
