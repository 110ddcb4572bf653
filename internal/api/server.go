// Package api exposes the trader's read-only operational surface: health
// probes, prometheus metrics, the ledger view, the journal over HTTP and a
// live journal feed over WebSocket, plus a gRPC health service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/domain"
	"github.com/AlexSDem/trade-bot/internal/state"
)

// StateSource is the read side of the trading loop.
type StateSource interface {
	View() state.View
	Ready() bool
	LastCycle() time.Time
}

// JournalSource reads and streams journal records.
type JournalSource interface {
	ReadDay(ctx context.Context, day string) ([]domain.JournalRecord, error)
	Subscribe(bufSize int) (int, <-chan domain.JournalRecord)
	Unsubscribe(id int)
}

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	httpAddr string
	grpcAddr string
	loc      *time.Location

	src     StateSource
	journal JournalSource
	hub     *Hub
	health  *health.Server
	started time.Time
	now     func() time.Time
	log     *slog.Logger
}

// NewServer creates a Server configured from cfg. loc is the session
// timezone used to pick the default journal day. A zero port disables the
// matching listener.
func NewServer(cfg config.Server, src StateSource, j JournalSource, loc *time.Location, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		src:     src,
		journal: j,
		loc:     loc,
		hub:     NewHub(log),
		health:  health.NewServer(),
		started: time.Now(),
		now:     time.Now,
		log:     log.With("component", "api"),
	}
	if cfg.Port > 0 {
		s.httpAddr = net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	}
	if cfg.GRPCPort > 0 {
		s.grpcAddr = net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.GRPCPort))
	}
	s.SetServing(false)
	return s
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves until ctx is cancelled, then shuts the listeners down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.journal != nil {
		id, feed := s.journal.Subscribe(256)
		g.Go(func() error {
			defer s.journal.Unsubscribe(id)
			s.hub.Run(ctx, feed)
			return nil
		})
	}

	if s.httpAddr != "" {
		ln, err := net.Listen("tcp", s.httpAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
		}
		srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			s.log.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if s.grpcAddr != "" {
		ln, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
		}
		gs := s.NewGRPCServer()
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", ln.Addr().String())
			if err := gs.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			s.health.Shutdown()
			gs.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
