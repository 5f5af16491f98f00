package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"mediaproxy/work/config"
	"mediaproxy/work/handlers"
	"mediaproxy/work/logger"
)

// Server binds a MediaProxy to a TCP listener.
type Server struct {
	config     *config.Config
	proxy      *MediaProxy
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewServer creates a Server for mp. Nothing is bound until Start.
func NewServer(cfg *config.Config, mp *MediaProxy) *Server {
	return &Server{
		config:  cfg,
		proxy:   mp,
		handler: handlers.NewRouter(mp, cfg.MetricsEnabled),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously. With port 0 the bound port replaces the
// configured one in every rewritten URL.
func (s *Server) Start() error {
	if s.listener != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = ln

	if s.config.Port == 0 {
		port := ln.Addr().(*net.TCPAddr).Port
		s.proxy.SetProxyPath(config.ProxyPath(s.config.Host, port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ClientTimeout,
		ReadTimeout:       s.config.ClientTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{proxy/server - Start} Serve stopped: %v", err)
		}
	}()

	logger.Info("{proxy/server - Start} Listening on %s", s.proxy.ProxyPath())
	return nil
}

// Shutdown stops accepting connections, cancels in-flight requests and
// waits for the serve loop and prefetch workers to finish. Connections still
// open when ctx expires are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		s.proxy.Close()
		return nil
	}

	// Streaming responses never go idle on their own.
	s.cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logger.Warn("{proxy/server - Shutdown} Forcing close: %v", err)
		s.httpServer.Close()
	}
	<-s.done

	s.proxy.Close()
	logger.Info("{proxy/server - Shutdown} Stopped")
	return err
}

// ProxyPath returns the http://host:port/ prefix of rewritten URLs.
func (s *Server) ProxyPath() string {
	return s.proxy.ProxyPath()
}

// Handler returns the router, for serving without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}
