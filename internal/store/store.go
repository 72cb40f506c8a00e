package store

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/UkralStul/feedsync/internal/metrics"
)

// Store - единственный владелец канонического состояния.
// Dispatch выполняет редьюсер под мьютексом, поэтому редьюсеры не пересекаются.
// Подписчики уведомляются вне мьютекса в порядке диспатча.
type Store struct {
	mu       sync.Mutex
	state    *State
	subs     map[string]*subscription
	order    []string
	pending  []delivery
	version  uint64
	draining bool
	logger   *slog.Logger
}

// New создает хранилище с пустым состоянием.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		state:  Empty(),
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "store"),
	}
}

// State возвращает текущий снимок состояния. Снимок нельзя менять.
func (s *Store) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch применяет действие и возвращает новое состояние.
func (s *Store) Dispatch(a Action) *State {
	s.mu.Lock()
	s.reduce(a)
	next := s.state
	s.drain()
	return next
}

// Patch атомарно запоминает Bucket'ы refs, применяет действия и запоминает
// Bucket'ы еще раз. Пара снимков нужна для отката через SnapshotRestored.
func (s *Store) Patch(refs []Ref, actions ...Action) (before, after Snapshot) {
	s.mu.Lock()
	before = s.state.Capture(refs...)
	for _, a := range actions {
		s.reduce(a)
	}
	after = s.state.Capture(refs...)
	s.drain()
	return before, after
}

// reduce вызывается под s.mu.
func (s *Store) reduce(a Action) {
	prev := s.state
	next := Reduce(prev, a)
	changed := next != prev
	metrics.Dispatches.WithLabelValues(a.ActionName(), strconv.FormatBool(changed)).Inc()
	if !changed {
		return
	}
	s.logger.Debug("action applied", "action", a.ActionName())
	s.state = next
	s.version++
	s.pending = append(s.pending, delivery{state: next, version: s.version})
}

// delivery - состояние в очереди уведомлений. Первичная доставка
// адресована только новому подписчику (only).
type delivery struct {
	state   *State
	version uint64
	only    *subscription
}

// drain доставляет накопленные состояния подписчикам и снимает s.mu.
func (s *Store) drain() {
	if s.draining || len(s.pending) == 0 {
		// Уведомления доставит тот, кто уже разбирает очередь.
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		subs := make([]*subscription, 0, len(s.order))
		for _, id := range s.order {
			subs = append(subs, s.subs[id])
		}
		s.mu.Unlock()
		for _, d := range batch {
			for _, sub := range subs {
				sub.notify(d)
			}
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// Select проецирует текущее состояние.
func Select[T any](s *Store, selector func(*State) T) T {
	return selector(s.State())
}

// Subscription - хэндл подписки на изменения.
type Subscription struct {
	id    string
	store *Store
}

// Unsubscribe отменяет подписку. Повторный вызов безопасен.
func (sub *Subscription) Unsubscribe() {
	if sub == nil || sub.store == nil {
		return
	}
	s := sub.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.subs[sub.id]; ok {
		entry.cancel()
		delete(s.subs, sub.id)
		for i, id := range s.order {
			if id == sub.id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
}

type subscription struct {
	mu     sync.Mutex
	closed bool
	// since - версия состояния на момент подписки, более ранние пропускаются.
	since    uint64
	onChange func(st *State, initial bool)
}

func (sub *subscription) notify(d delivery) {
	initial := d.only == sub
	if d.only != nil && !initial {
		return
	}
	if !initial && d.version <= sub.since {
		return
	}
	sub.mu.Lock()
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		return
	}
	sub.onChange(d.state, initial)
}

func (sub *subscription) cancel() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
}

// Subscribe вызывает fn каждый раз, когда результат selector меняется
// (сравнение по ==, для Bucket'ов это сравнение по указателю).
// Первым fn получает текущее значение. Оно идет через ту же очередь,
// что и остальные уведомления, поэтому не обгоняет более поздние изменения.
// Если очередь свободна, первый вызов fn происходит до возврата из Subscribe.
func Subscribe[T comparable](s *Store, selector func(*State) T, fn func(T)) *Subscription {
	var last T
	sub := &subscription{}
	sub.onChange = func(st *State, initial bool) {
		v := selector(st)
		if !initial && v == last {
			return
		}
		last = v
		fn(v)
	}

	id := uuid.NewString()
	s.mu.Lock()
	sub.since = s.version
	s.subs[id] = sub
	s.order = append(s.order, id)
	s.pending = append(s.pending, delivery{state: s.state, version: s.version, only: sub})
	s.drain()
	return &Subscription{id: id, store: s}
}
