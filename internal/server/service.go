package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/hackgame/internal/account"
	"github.com/danmuck/hackgame/internal/command"
	"github.com/danmuck/hackgame/internal/config"
	"github.com/danmuck/hackgame/internal/credential"
	"github.com/danmuck/hackgame/internal/events"
	"github.com/danmuck/hackgame/internal/logging"
	"github.com/danmuck/hackgame/internal/observability"
	"github.com/danmuck/hackgame/internal/registry"
	"github.com/danmuck/hackgame/internal/software"
	"github.com/danmuck/hackgame/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownFlushTimeout = 15 * time.Second

// Service wires storage, the registry, accounts and the server together and
// owns the listeners.
type Service struct {
	cfg       config.Config
	store     storage.Store
	publisher events.Publisher
	closeBus  func()
	registry  *registry.Registry
	accounts  *account.Service
	server    *Server
	logger    zerolog.Logger

	ln        net.Listener
	wsLn      net.Listener
	metricsLn net.Listener
}

// NewService opens the configured store and event bus and builds the
// runtime. Close releases both.
func NewService(ctx context.Context, cfg config.Config) (*Service, error) {
	catalog, err := software.NewCatalogFrom(cfg.Software)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc := &Service{
		cfg:       cfg,
		store:     store,
		publisher: events.Noop{},
		closeBus:  func() {},
		logger:    logging.Component("service"),
	}
	if url := strings.TrimSpace(cfg.Events.NATSURL); url != "" {
		bus, err := events.NewNATS(url, cfg.Events.SubjectPrefix)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("server: connect events: %w", err)
		}
		svc.publisher = bus
		svc.closeBus = bus.Close
	}

	svc.registry = registry.New(store, catalog,
		registry.WithPublisher(svc.publisher),
		registry.WithShards(cfg.Registry.Shards),
		registry.WithCheckDurable(cfg.Registry.CheckDurableAddresses),
	)
	svc.accounts = account.NewService(store, credential.NewArgon2(cfg.Credential))
	svc.server = New(svc.registry, svc.accounts, command.NewDefault(), Options{
		Session:         cfg.Session,
		CommandRate:     rate.Limit(cfg.Commands.RatePerSecond),
		CommandBurst:    cfg.Commands.Burst,
		StartingBalance: cfg.Registry.StartingBalance,
	})
	return svc, nil
}

func (s *Service) Registry() *registry.Registry { return s.registry }
func (s *Service) Accounts() *account.Service   { return s.accounts }
func (s *Service) Server() *Server              { return s.server }

// Listen binds every configured listener. Run calls it when needed.
func (s *Service) Listen() error {
	if s.ln != nil {
		return nil
	}
	if err := s.cfg.Session.ValidateServerTransport(); err != nil {
		return err
	}
	ln, err := s.listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	if addr := strings.TrimSpace(s.cfg.WebSocketAddr); addr != "" {
		if s.wsLn, err = s.listen(addr); err != nil {
			s.closeListeners()
			return err
		}
	}
	if addr := strings.TrimSpace(s.cfg.MetricsAddr); addr != "" {
		if s.metricsLn, err = net.Listen("tcp", addr); err != nil {
			s.closeListeners()
			return err
		}
	}
	return nil
}

// listen opens a TCP listener, wrapped in TLS when the session policy asks.
func (s *Service) listen(addr string) (net.Listener, error) {
	if !s.cfg.Session.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := s.cfg.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

func (s *Service) closeListeners() {
	for _, ln := range []net.Listener{s.ln, s.wsLn, s.metricsLn} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// Addr is the bound game listener address, nil before Listen.
func (s *Service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) WebSocketAddr() net.Addr {
	if s.wsLn == nil {
		return nil
	}
	return s.wsLn.Addr()
}

func (s *Service) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// Run loads hosts, bootstraps the dev account when enabled, and serves
// until ctx is done. On the way out it closes connections and flushes every
// dirty host with a fresh context.
func (s *Service) Run(ctx context.Context) error {
	observability.RegisterMetrics()
	loaded, err := s.registry.LoadAll(ctx)
	if err != nil {
		// Row failures come back joined; anything else means the store is unusable.
		var rows interface{ Unwrap() []error }
		if !errors.As(err, &rows) {
			return err
		}
		s.logger.Warn().Err(err).Int("loaded", loaded).Msg("some hosts failed to load")
	}
	if s.cfg.Dev.Enabled {
		if err := account.Bootstrap(ctx, s.accounts, s.registry, s.cfg.Dev); err != nil {
			return fmt.Errorf("server: dev bootstrap: %w", err)
		}
	}
	observability.SetResidentHosts(s.registry.Len())
	if err := s.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	s.logger.Info().Str("addr", s.ln.Addr().String()).Int("hosts", s.registry.Len()).Msg("listening")
	g.Go(func() error {
		return s.server.Serve(gctx, s.ln)
	})
	if s.wsLn != nil {
		s.logger.Info().Str("addr", s.wsLn.Addr().String()).Msg("websocket listening")
		s.serveHTTP(gctx, g, s.wsLn, s.server.WebSocketHandler(gctx))
	}
	if s.metricsLn != nil {
		s.logger.Info().Str("addr", s.metricsLn.Addr().String()).Msg("metrics listening")
		s.serveHTTP(gctx, g, s.metricsLn, observability.MetricsMux(s.logger))
	}
	g.Go(func() error {
		s.syncLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.server.CloseAll()
		return nil
	})

	runErr := g.Wait()
	s.server.Wait()
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if _, err := s.flush(flushCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	s.logger.Info().Msg("stopped")
	return runErr
}

func (s *Service) serveHTTP(ctx context.Context, g *errgroup.Group, ln net.Listener, h http.Handler) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})
}

func (s *Service) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Registry.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.flush(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic sync failed")
			}
		}
	}
}

func (s *Service) flush(ctx context.Context) (int, error) {
	synced, err := s.registry.Flush(ctx)
	observability.RecordFlush(synced, err)
	observability.SetResidentHosts(s.registry.Len())
	if synced > 0 {
		s.logger.Debug().Int("synced", synced).Msg("hosts flushed")
	}
	return synced, err
}

// Close releases the store and event bus. Call after Run returns.
func (s *Service) Close() error {
	s.closeListeners()
	s.closeBus()
	return s.store.Close()
}
