// Package redisfeed передает ленту изменений через Redis pub/sub,
// чтобы несколько экземпляров сервера раздавали одни и те же события.
package redisfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/remote"
)

// DefaultChannel - канал Redis по умолчанию.
const DefaultChannel = "feedsync:changes"

const publishTimeout = 2 * time.Second

// Publisher публикует события бэкенда в канал Redis.
type Publisher struct {
	rdb     redis.UniversalClient
	channel string
	logger  *slog.Logger
}

var _ remote.Publisher = (*Publisher)(nil)

func NewPublisher(rdb redis.UniversalClient, channel string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{rdb: rdb, channel: channel, logger: logger}
}

// Publish отправляет событие синхронно, чтобы сохранить порядок публикации.
// Ошибка логируется: лента at-least-once, потерянное событие компенсирует перезагрузка.
func (p *Publisher) Publish(ch remote.Change) {
	payload, err := json.Marshal(ch)
	if err != nil {
		p.logger.Error("failed to encode change", "kind", ch.Kind, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish change", "kind", ch.Kind, "id", ch.Record.ID(), "error", err)
	}
}

// Feed читает канал Redis и раздает события через локальный Hub.
type Feed struct {
	*feed.Hub

	rdb     redis.UniversalClient
	channel string
	logger  *slog.Logger
}

var (
	_ remote.Feed         = (*Feed)(nil)
	_ remote.StatusSource = (*Feed)(nil)
)

func NewFeed(rdb redis.UniversalClient, channel string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	hub := feed.NewHub(logger)
	hub.SetStatus(remote.FeedDisconnected)
	return &Feed{Hub: hub, rdb: rdb, channel: channel, logger: logger}
}

// Run читает канал до отмены ctx. Подтверждение подписки означает
// подключение, ошибка чтения - разрыв; go-redis переподключается сам.
func (f *Feed) Run(ctx context.Context) error {
	pubsub := f.rdb.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	for {
		msg, err := pubsub.Receive(ctx)
		if err != nil {
			f.SetStatus(remote.FeedDisconnected)
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return nil
			}
			f.logger.Warn("redis feed receive failed", "channel", f.channel, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				f.SetStatus(remote.FeedConnected)
			}
		case *redis.Message:
			var ch remote.Change
			if err := json.Unmarshal([]byte(m.Payload), &ch); err != nil {
				f.logger.Warn("malformed change on redis feed", "error", err)
				continue
			}
			f.Publish(ch)
		}
	}
}
