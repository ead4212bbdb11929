package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const mirrorSubscriberID = "redis-mirror"

// RedisMirror republishes bus events onto a Redis pub/sub channel so
// external consumers can follow delegation activity without holding a
// WebSocket connection.
type RedisMirror struct {
	client  *redis.Client
	channel string
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}
}

// RedisMirrorConfig configures the mirror connection.
type RedisMirrorConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string // default "goswarm.events"
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, cfg RedisMirrorConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "goswarm.events"
	}

	return &RedisMirror{
		client:  client,
		channel: channel,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes the mirror to the bus and begins publishing.
func (m *RedisMirror) Start(b *EventBus) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	b.Subscribe(mirrorSubscriberID, func(ev Event) {
		select {
		case m.events <- ev:
		default:
			slog.Warn("redis mirror buffer full, dropping event", "event", ev.Name)
		}
	})

	go m.publishLoop(ctx)
	slog.Info("redis event mirror started", "channel", m.channel)
}

func (m *RedisMirror) publishLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("marshal event for redis failed", "event", ev.Name, "error", err)
				continue
			}
			if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
				slog.Warn("redis publish failed", "event", ev.Name, "error", err)
			}
		}
	}
}

// Stop detaches from the bus and closes the Redis connection.
func (m *RedisMirror) Stop(b *EventBus) {
	b.Unsubscribe(mirrorSubscriberID)
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	if err := m.client.Close(); err != nil {
		slog.Warn("redis close failed", "error", err)
	}
}
