package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Service ties the connection manager, the JetStream consumer and the state
// endpoint into one process.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *StateHandler
	states            *RoomStateManager
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
	PruneInterval    time.Duration
	PruneAge         time.Duration
}

// DefaultConfig returns default configuration for the gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
		PruneInterval:    10 * time.Minute,
		PruneAge:         time.Hour,
	}
}

// NewService creates a new gateway service.
func NewService(config Config, states *RoomStateManager, source SnapshotSource) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, states.Rules())

	wsHandler := NewWebSocketHandler(connectionManager)

	eventConsumer, err := NewEventConsumer(connectionManager, states, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	stateHandler := NewStateHandler(states, source)

	svc := &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		eventConsumer:     eventConsumer,
		stateHandler:      stateHandler,
		states:            states,
	}
	svc.startPruner(config)
	return svc, nil
}

func (s *Service) startPruner(config Config) {
	if config.PruneInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.PruneInterval)
		defer ticker.Stop()
		for range ticker.C {
			if n := s.states.Prune(time.Now(), config.PruneAge); n > 0 {
				log.Debug().Int("removed", n).Msg("pruned finished room states")
			}
		}
	}()
}

// Start begins the gateway service and blocks until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("race gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service.
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}

	log.Info().Msg("race gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("race gateway routes registered")
}

// BroadcastEvent allows manual event broadcasting, useful in tests.
func (s *Service) BroadcastEvent(roomCode string, event *RaceEvent) {
	s.connectionManager.BroadcastToRoom(roomCode, event)
}
