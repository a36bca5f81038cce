/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, caching, eventing, and the
// HTTP API into one runnable unit.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nathanielasun/songbase/internal/api"
	"github.com/nathanielasun/songbase/internal/cache"
	"github.com/nathanielasun/songbase/internal/catalog"
	"github.com/nathanielasun/songbase/internal/config"
	"github.com/nathanielasun/songbase/internal/db"
	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/eventbus"
	"github.com/nathanielasun/songbase/internal/events"
	"github.com/nathanielasun/songbase/internal/leadership"
	"github.com/nathanielasun/songbase/internal/rules"
	"github.com/nathanielasun/songbase/internal/smartplaylist"
	"github.com/nathanielasun/songbase/internal/telemetry"
)

// eventBus is the subset of bus behavior the server needs; satisfied by both
// the in-process bus and the NATS bridge.
type eventBus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Publish(eventType events.EventType, payload events.Payload)
}

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db             *gorm.DB
	cache          *cache.Cache
	bus            eventBus
	eval           *evaluator.Evaluator
	smartPlaylists *smartplaylist.Service
	api            *api.API
	election       *leadership.Election

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("songbase-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	switch s.cfg.EventBusBackend {
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsBus, err := eventbus.NewNATSBus(natsCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init NATS bus: %w", err)
		}
		s.bus = natsBus
		s.DeferClose(natsBus.Close)
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return fmt.Errorf("init Redis bus: %w", err)
		}
		s.bus = redisBus
		s.DeferClose(redisBus.Close)
	default:
		s.bus = events.NewBus()
	}

	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		if s.cfg.InstanceID != "" {
			electionCfg.InstanceID = s.cfg.InstanceID
		}
		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}
		s.election = election
		s.DeferClose(election.Stop)

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionCfg.InstanceID).
			Msg("leader election enabled for smart playlist refresh")
	}

	store := catalog.NewStore(database, s.logger)
	s.eval = evaluator.New(store, s.logger)

	presets, err := rules.LoadPresets(s.cfg.PresetsPath)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	s.smartPlaylists = smartplaylist.New(database, s.eval, s.cache, s.bus, s.logger)
	s.api = api.New(s.smartPlaylists, s.eval, presets, s.cfg.PreviewDebounce, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the standalone metrics listener, nil when metrics
// share the API listener.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// SmartPlaylists exposes the smart playlist service for command-line use.
func (s *Server) SmartPlaylists() *smartplaylist.Service {
	return s.smartPlaylists
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// With leader election, only the lease holder refreshes; everyone else
	// serves reads and previews.
	if s.election != nil {
		if err := s.election.Start(ctx); err != nil {
			s.logger.Error().Err(err).Msg("leader election start failed, refreshing unconditionally")
			s.smartPlaylists.StartRefreshLoop(ctx, s.cfg.RefreshInterval)
		} else {
			s.bgWG.Add(1)
			go func() {
				defer s.bgWG.Done()
				ticker := time.NewTicker(s.cfg.RefreshInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if !s.election.IsLeader() {
							s.logger.Debug().Msg("not leader, skipping scheduled refresh")
							continue
						}
						if err := s.smartPlaylists.RefreshAll(ctx); err != nil {
							s.logger.Error().Err(err).Msg("scheduled refresh incomplete")
						}
					}
				}
			}()
		}
	} else {
		s.smartPlaylists.StartRefreshLoop(ctx, s.cfg.RefreshInterval)
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached materializations whenever the
// catalog changes, since any rule's matched set may now differ.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	catalogEvents := []events.EventType{
		events.EventSongCreated,
		events.EventSongUpdated,
		events.EventSongDeleted,
		events.EventPlayRecorded,
		events.EventPlaylistUpdated,
		events.EventPlaylistDeleted,
	}

	subs := make(map[events.EventType]events.Subscriber, len(catalogEvents))
	merged := make(chan events.EventType, 64)
	for _, et := range catalogEvents {
		sub := s.bus.Subscribe(et)
		subs[et] = sub
		go func(et events.EventType, sub events.Subscriber) {
			for range sub {
				select {
				case merged <- et:
				default:
				}
			}
		}(et, sub)
	}
	defer func() {
		for et, sub := range subs {
			s.bus.Unsubscribe(et, sub)
		}
	}()

	s.logger.Info().Msg("cache invalidation listener started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return
		case et := <-merged:
			s.logger.Debug().Str("event_type", string(et)).Msg("catalog changed, invalidating materializations")
			if err := s.cache.InvalidateMaterializations(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("materialization invalidation failed")
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`
		if s.election != nil {
			if s.election.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}
		response += `}`
		_, _ = w.Write([]byte(response))
	})

	// Metrics go on the dedicated listener when one is configured.
	if s.cfg.MetricsBind == "" {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
