// Package ws передает ленту изменений по websocket.
// Сервер раздает события Hub, клиент переподключается и публикует их в локальный Hub.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/remote"
)

// Settings - таймауты транспорта.
type Settings struct {
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	ReconnectTimeout time.Duration
}

// DefaultSettings возвращает таймауты по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      30 * time.Second,
		ReconnectTimeout: 2 * time.Second,
	}
}

var allKinds = []remote.Kind{
	remote.KindPost,
	remote.KindComment,
	remote.KindVote,
	remote.KindFriendship,
	remote.KindNotification,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler раздает события hub подключенному клиенту.
// Параметр kinds ограничивает виды событий, по умолчанию все.
func Handler(hub *feed.Hub, settings Settings, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer conn.Close()

		kinds := allKinds
		if q := r.URL.Query().Get("kinds"); q != "" {
			kinds = nil
			for _, k := range strings.Split(q, ",") {
				kinds = append(kinds, remote.Kind(k))
			}
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		changes := hub.Listen(ctx, kinds...)
		logger.Info("feed client connected", "remote", r.RemoteAddr, "kinds", kinds)

		// Читаем только чтобы заметить закрытие соединения клиентом.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(settings.PingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("feed client disconnected", "remote", r.RemoteAddr)
				return
			case ch, ok := <-changes:
				if !ok {
					// отстающий клиент, соединение закрывается и клиент переподключится
					return
				}
				conn.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := conn.WriteJSON(ch); err != nil {
					logger.Warn("failed to write feed change", "error", err)
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// Client - лента изменений поверх websocket. Пока соединения нет,
// статус ленты disconnected и события не приходят.
type Client struct {
	*feed.Hub

	url      string
	settings Settings
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

var (
	_ remote.Feed         = (*Client)(nil)
	_ remote.StatusSource = (*Client)(nil)
)

// NewClient создает клиента. Соединение устанавливает Run.
func NewClient(url string, settings Settings, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	hub := feed.NewHub(logger)
	hub.SetStatus(remote.FeedDisconnected)
	return &Client{
		Hub:      hub,
		url:      url,
		settings: settings,
		dialer:   websocket.DefaultDialer,
		logger:   logger,
	}
}

// Run держит соединение до отмены ctx, переподключаясь после разрывов.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		c.SetStatus(remote.FeedDisconnected)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("feed connection lost", "url", c.url, "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.settings.ReconnectTimeout):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.settings.WriteTimeout))
	})

	c.SetStatus(remote.FeedConnected)
	c.logger.Info("feed connected", "url", c.url)

	for {
		conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		var ch remote.Change
		if err := conn.ReadJSON(&ch); err != nil {
			return err
		}
		c.Publish(ch)
	}
}
