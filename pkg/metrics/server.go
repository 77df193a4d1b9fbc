package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Server exposes /metrics on its own port for commands that do not run the
// HTTP API, such as a long bulk load.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// StartServer binds port (0 picks a free one) and serves g in the
// background. A nil gatherer serves the default registry. Bind failures are
// returned instead of being logged from the serving goroutine.
func StartServer(port int, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	h := Handler()
	if g != nil {
		h = HandlerFor(g)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h)

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		listener: ln,
	}
	go func() {
		slog.Info("metrics server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
