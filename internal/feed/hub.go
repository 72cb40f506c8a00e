// Package feed содержит ленты изменений: внутрипроцессный Hub,
// websocket-транспорт (feed/ws) и Redis pub/sub (feed/redisfeed).
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/feedsync/internal/metrics"
	"github.com/UkralStul/feedsync/internal/remote"
)

// ListenBuffer - емкость канала Listen. Подписчик, не успевающий читать, отключается.
const ListenBuffer = 256

// Hub - лента изменений в памяти процесса. Реализует remote.Feed,
// remote.Publisher и remote.StatusSource.
//
// События доставляются синхронно и в порядке публикации. Publish из обработчика
// ставит событие в очередь, оно будет доставлено после текущего.
type Hub struct {
	mu sync.RWMutex
	//   map[kind] map[subscriberID] handler
	subs     map[remote.Kind]map[string]remote.Handler
	statuses map[string]func(remote.FeedStatus)
	status   remote.FeedStatus

	qmu      sync.Mutex
	queue    []remote.Change
	draining bool

	logger *slog.Logger
}

// NewHub - конструктор ленты.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:     make(map[remote.Kind]map[string]remote.Handler),
		statuses: make(map[string]func(remote.FeedStatus)),
		status:   remote.FeedConnected,
		logger:   logger,
	}
}

var (
	_ remote.Feed         = (*Hub)(nil)
	_ remote.Publisher    = (*Hub)(nil)
	_ remote.StatusSource = (*Hub)(nil)
)

func (h *Hub) Subscribe(kind remote.Kind, handler remote.Handler) (remote.SubscriptionHandle, error) {
	subID := uuid.NewString()

	h.mu.Lock()
	if h.subs[kind] == nil {
		h.subs[kind] = make(map[string]remote.Handler)
	}
	h.subs[kind][subID] = handler
	h.mu.Unlock()

	metrics.FeedSubscribers.Inc()
	return remote.SubscriptionHandle{ID: subID, Kind: kind}, nil
}

func (h *Hub) Unsubscribe(sub remote.SubscriptionHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kindSubs, ok := h.subs[sub.Kind]
	if !ok {
		return
	}
	if _, ok := kindSubs[sub.ID]; !ok {
		return
	}
	delete(kindSubs, sub.ID)
	if len(kindSubs) == 0 {
		delete(h.subs, sub.Kind)
	}
	metrics.FeedSubscribers.Dec()
}

// Publish доставляет событие всем подписчикам его вида.
// При разорванном соединении событие теряется.
func (h *Hub) Publish(ch remote.Change) {
	h.mu.RLock()
	connected := h.status == remote.FeedConnected
	h.mu.RUnlock()
	if !connected {
		h.logger.Debug("feed disconnected, change dropped", "kind", ch.Kind, "type", ch.Type, "id", ch.Record.ID())
		return
	}

	h.qmu.Lock()
	h.queue = append(h.queue, ch)
	if h.draining {
		h.qmu.Unlock()
		return
	}
	h.draining = true
	h.qmu.Unlock()

	for {
		h.qmu.Lock()
		if len(h.queue) == 0 {
			h.draining = false
			h.qmu.Unlock()
			return
		}
		next := h.queue[0]
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		h.deliver(next)
	}
}

func (h *Hub) deliver(ch remote.Change) {
	h.mu.RLock()
	handlers := make([]remote.Handler, 0, len(h.subs[ch.Kind]))
	for _, handler := range h.subs[ch.Kind] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ch.Type, ch.Record)
	}
}

// Listen подписывает канал на события перечисленных видов до отмены ctx.
// Если читатель отстает больше чем на ListenBuffer событий, канал закрывается.
func (h *Hub) Listen(ctx context.Context, kinds ...remote.Kind) <-chan remote.Change {
	out := make(chan remote.Change, ListenBuffer)
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu     sync.Mutex
		closed bool
	)
	closeOut := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(out)
		}
	}

	handles := make([]remote.SubscriptionHandle, 0, len(kinds))
	for _, kind := range kinds {
		kind := kind
		handle, _ := h.Subscribe(kind, func(typ remote.ChangeType, rec remote.Record) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			select {
			case out <- remote.Change{Kind: kind, Type: typ, Record: rec}:
			default:
				h.logger.Warn("feed listener is too slow, disconnecting", "kind", kind)
				closed = true
				close(out)
				cancel()
			}
		})
		handles = append(handles, handle)
	}

	// Горутина для очистки при отключении клиента
	go func() {
		<-ctx.Done()
		for _, handle := range handles {
			h.Unsubscribe(handle)
		}
		closeOut()
	}()

	return out
}

// OnStatus регистрирует наблюдателя состояния соединения.
func (h *Hub) OnStatus(fn func(remote.FeedStatus)) func() {
	id := uuid.NewString()
	h.mu.Lock()
	h.statuses[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.statuses, id)
		h.mu.Unlock()
	}
}

// Status возвращает текущее состояние соединения.
func (h *Hub) Status() remote.FeedStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// SetStatus меняет состояние соединения и уведомляет наблюдателей.
// Используется транспортами и тестами для имитации разрыва.
func (h *Hub) SetStatus(status remote.FeedStatus) {
	h.mu.Lock()
	if h.status == status {
		h.mu.Unlock()
		return
	}
	h.status = status
	observers := make([]func(remote.FeedStatus), 0, len(h.statuses))
	for _, fn := range h.statuses {
		observers = append(observers, fn)
	}
	h.mu.Unlock()

	h.logger.Info("feed status changed", "status", status.String())
	for _, fn := range observers {
		fn(status)
	}
}
