package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel name to LISTEN on
	FallbackInterval time.Duration // how often to sweep for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "race_outbox_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Publisher delivers a committed outbox event downstream.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Listener relays committed outbox rows to the publisher. The NOTIFY path is
// the fast lane; the fallback ticker sweeps anything a dropped notification
// left behind, so delivery is at-least-once either way.
type Listener struct {
	repo      *RelayRepository
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

func NewListener(repo *RelayRepository, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		repo:      repo,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("relay started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost; pq reconnects
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification resolves the notified id to its outbox row and relays
// it. The notification payload is just the event id; the row itself is the
// source of truth.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event id in notification: %w", err)
	}

	ev, err := l.repo.FetchEventByID(ctx, id)
	if errors.Is(err, ErrEventNotFound) {
		// Another relay instance or the fallback sweep got there first.
		return nil
	}
	if err != nil {
		return err
	}

	return l.relay(ctx, *ev)
}

// processUnsent sweeps outbox rows whose notification never arrived.
func (l *Listener) processUnsent(ctx context.Context) error {
	unsent, err := l.repo.FetchUnsentEvents(ctx, l.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, ev := range unsent {
		if err := l.relay(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.ID.String()).Msg("failed to relay event")
			continue
		}
	}
	return nil
}

func (l *Listener) relay(ctx context.Context, ev Event) error {
	if err := l.publishWithRetry(ctx, ev); err != nil {
		return err
	}
	if err := l.repo.MarkEventSent(ctx, ev.ID); err != nil {
		return err
	}
	log.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.EventType).
		Str("room_code", ev.RoomCode).
		Msg("relayed outbox event")
	return nil
}

// publishWithRetry publishes with linear backoff, RetryDelay times the
// attempt number, bounded by MaxRetries.
func (l *Listener) publishWithRetry(ctx context.Context, ev Event) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, ev); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", ev.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
