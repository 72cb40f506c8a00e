package optimistic

import (
	"context"
	"sync"
)

// keyQueue выстраивает мутации одного ключа в очередь FIFO.
// Каждый участник ждет закрытия канала предшественника.
type keyQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	count map[string]int
	dirty map[string]bool

	// onIdle вызывается последним участником ключа, если ключ помечен deferIfBusy.
	onIdle func(key string)
}

func newKeyQueue() *keyQueue {
	return &keyQueue{
		tails: make(map[string]chan struct{}),
		count: make(map[string]int),
		dirty: make(map[string]bool),
	}
}

// acquire ставит вызывающего в очередь key и ждет своей очереди.
// Отмена ctx снимает ожидание, но место в цепочке освобождается
// только после предшественника, поэтому порядок не нарушается.
func (q *keyQueue) acquire(ctx context.Context, key string) (release func(), err error) {
	q.mu.Lock()
	prev := q.tails[key]
	done := make(chan struct{})
	q.tails[key] = done
	q.count[key]++
	q.mu.Unlock()

	finish := func() {
		close(done)
		q.mu.Lock()
		q.count[key]--
		idle := false
		if q.count[key] == 0 {
			delete(q.count, key)
			delete(q.tails, key)
			idle = q.dirty[key]
			delete(q.dirty, key)
		}
		q.mu.Unlock()
		if idle && q.onIdle != nil {
			q.onIdle(key)
		}
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				finish()
			}()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(finish) }, nil
}

// busy сообщает, есть ли у ключа выполняющиеся или ожидающие мутации.
func (q *keyQueue) busy(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count[key] > 0
}

// deferIfBusy помечает ключ, если у него есть участники, и возвращает true.
// Метку забирает последний участник, вызывая onIdle.
func (q *keyQueue) deferIfBusy(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count[key] == 0 {
		return false
	}
	q.dirty[key] = true
	return true
}
