package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/aabine/flow-realtime/internal/auth"
	"github.com/aabine/flow-realtime/internal/broker"
	"github.com/aabine/flow-realtime/internal/config"
	"github.com/aabine/flow-realtime/internal/dispatch"
	"github.com/aabine/flow-realtime/internal/events"
	"github.com/aabine/flow-realtime/internal/handler"
	"github.com/aabine/flow-realtime/internal/hub"
	"github.com/aabine/flow-realtime/internal/metrics"
	"github.com/aabine/flow-realtime/internal/zones"
	"github.com/aabine/flow-realtime/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Int("port", cfg.Server.Port).Msg("starting realtime service")

	if cfg.Auth.Secret == "" {
		logger.Fatal().Msg("auth secret is required (JWT_SECRET)")
	}

	metrics.Register()

	// Connection registry and zone catalogue.
	wsHub := hub.New(cfg.WebSocket, logger.With().Str("component", "hub").Logger())

	var zoneManager *zones.Manager
	if len(cfg.Zones) > 0 {
		zoneManager = zones.NewManager(cfg.Zones, zones.DefaultAlertProfiles(), zones.DefaultEscalationRules())
		logger.Info().Int("zones", len(cfg.Zones)).Msg("loaded zone catalogue from config")
	} else {
		zoneManager = zones.NewDefaultManager()
	}

	// Dispatcher and broker client reference each other: the handler
	// table routes inbound events into the dispatcher, and the
	// dispatcher mirrors alerts back out through the client.
	dispatcher := dispatch.New(wsHub, zoneManager, nil,
		logger.With().Str("component", "dispatch").Logger())

	table := events.NewHandlerTable(wsHub, dispatcher,
		logger.With().Str("component", "events").Logger())

	cfg.Broker.Patterns = events.Patterns()
	brokerClient := broker.New(broker.NewRedisTransport(cfg.Exchange), table, cfg.Broker,
		logger.With().Str("component", "broker").Logger())
	dispatcher.SetPublisher(brokerClient)

	brokerClient.Start()
	defer brokerClient.Stop()

	// HTTP surface.
	verifier := auth.NewVerifier(cfg.Auth.Secret)
	wsHandler := handler.NewWSHandler(wsHub, dispatcher, verifier)
	httpHandler := handler.NewHTTPHandler(wsHub, dispatcher, zoneManager, brokerClient)

	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(logger))
	router.HandleFunc("/ws/{user_id}", wsHandler.HandleWebSocket)
	router.HandleFunc("/ws/emergency/{area_id}", wsHandler.HandleEmergencyChannel)
	httpHandler.Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Periodic liveness probe, stale sweep and escalation sweep.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runTickers(ctx, cfg, wsHub, dispatcher)

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}

// runTickers drives the hub's liveness probe and stale sweep and the
// dispatcher's escalation and expiry sweeps. The hub and dispatcher
// own no timers themselves.
func runTickers(ctx context.Context, cfg *config.Config, wsHub *hub.Hub, dispatcher *dispatch.Dispatcher) {
	probe := time.NewTicker(cfg.WebSocket.PingInterval)
	stale := time.NewTicker(cfg.WebSocket.MaxIdle / 2)
	escalate := time.NewTicker(cfg.Dispatch.EscalationSweep)
	defer probe.Stop()
	defer stale.Stop()
	defer escalate.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			wsHub.PingAll()
		case <-stale.C:
			if removed := wsHub.CleanupStale(cfg.WebSocket.MaxIdle); removed > 0 {
				log.L().Info().Int("removed", removed).Msg("stale connections swept")
			}
		case <-escalate.C:
			dispatcher.EscalateDue(ctx)
			dispatcher.ExpireOlderThan(cfg.Dispatch.AlertMaxAge)
		}
	}
}
