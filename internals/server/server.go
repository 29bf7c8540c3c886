package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plazaworld/plaza/internals/config"
	"github.com/plazaworld/plaza/internals/events"
	"github.com/plazaworld/plaza/internals/gateway"
	"github.com/plazaworld/plaza/internals/queue"
	"github.com/plazaworld/plaza/internals/state"
	"github.com/plazaworld/plaza/internals/utils"
)

// Server owns every long-lived component of an instance: the shared state
// store, the event bus, the position queue and the connection gateway.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	serverID string

	store   *state.Store
	bus     *events.Bus
	queue   *queue.PositionQueue
	gateway *gateway.Gateway

	httpServer    *http.Server
	metricsServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config) (*Server, error) {
	logger := utils.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())

	store, err := state.NewStore(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("state store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("state store init: %w", err)
	}

	serverID := os.Getenv("SERVER_ID")
	if serverID == "" {
		serverID = uuid.NewString()
	}

	bus := events.NewBus(store.Client(), serverID, cfg.Redis.WorldChannel, cfg.Redis.SignalChannel, logger)
	positionQueue := queue.NewPositionQueue(store, bus, cfg.World.PositionFlushInterval, logger)
	hub := gateway.NewHub(logger)
	gw := gateway.New(cfg, store, bus, positionQueue, hub, serverID, logger)

	bus.OnWorldEvent = gw.HandleWorldEvent
	bus.OnSignalPointer = gw.HandleSignalPointer

	return &Server{
		cfg:      cfg,
		logger:   logger,
		serverID: serverID,
		store:    store,
		bus:      bus,
		queue:    positionQueue,
		gateway:  gw,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Server) Start() error {
	s.bus.Start()
	s.queue.Start()
	go s.gateway.RunSweeper(s.ctx)

	if s.cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(s.cfg.Metrics.Path, promhttp.Handler())
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.cfg.Metrics.Port),
			Handler: metricsMux,
		}
		go func() {
			s.logger.Info("Metrics server listening",
				zap.Int("port", s.cfg.Metrics.Port),
				zap.String("path", s.cfg.Metrics.Path),
			)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.gateway.HandleWebSocket)
	mux.HandleFunc("/healthz", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/config/ice", s.corsMiddleware(s.handleICEConfig))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler: mux,
	}

	s.logger.Info("Plaza server listening",
		zap.String("addr", s.httpServer.Addr),
		zap.String("server_id", s.serverID),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown", zap.Error(err))
		}
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Metrics server shutdown", zap.Error(err))
		}
	}

	s.cancel()
	s.queue.Stop()
	if err := s.bus.Close(); err != nil {
		s.logger.Warn("Event bus close", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("State store close", zap.Error(err))
	}
	s.logger.Info("Server stopped")
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "serverId": s.serverID})
}

// handleICEConfig serves the STUN/TURN configuration clients need before
// they can negotiate peer audio.
func (s *Server) handleICEConfig(w http.ResponseWriter, r *http.Request) {
	host := strings.Split(r.Host, ":")[0]
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"iceServers": BuildICEServers(s.cfg.ICE, host),
	})
}
