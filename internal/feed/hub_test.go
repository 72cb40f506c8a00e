package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/feedsync/internal/remote"
)

func TestHub_DeliversInPublishOrder(t *testing.T) {
	h := NewHub(nil)
	var seen []string

	_, err := h.Subscribe(remote.KindComment, func(typ remote.ChangeType, rec remote.Record) {
		seen = append(seen, string(typ)+":"+rec.ID())
		// публикация из обработчика доставляется после текущего события
		if rec.ID() == "c1" && typ == remote.ChangeInsert {
			h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeUpdate, Record: remote.Record{"id": "c1"}})
		}
	})
	require.NoError(t, err)
	_, err = h.Subscribe(remote.KindVote, func(remote.ChangeType, remote.Record) {
		seen = append(seen, "vote")
	})
	require.NoError(t, err)

	h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeInsert, Record: remote.Record{"id": "c1"}})
	h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeDelete, Record: remote.Record{"id": "c2"}})

	assert.Equal(t, []string{"insert:c1", "update:c1", "delete:c2"}, seen)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	sub, err := h.Subscribe(remote.KindComment, func(remote.ChangeType, remote.Record) { calls++ })
	require.NoError(t, err)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeInsert, Record: remote.Record{"id": "c1"}})

	assert.Zero(t, calls)
}

func TestHub_DisconnectDropsEventsAndNotifiesObservers(t *testing.T) {
	h := NewHub(nil)
	calls := 0
	_, err := h.Subscribe(remote.KindComment, func(remote.ChangeType, remote.Record) { calls++ })
	require.NoError(t, err)

	var statuses []remote.FeedStatus
	cancel := h.OnStatus(func(s remote.FeedStatus) { statuses = append(statuses, s) })

	h.SetStatus(remote.FeedDisconnected)
	h.SetStatus(remote.FeedDisconnected)
	h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeInsert, Record: remote.Record{"id": "lost"}})
	h.SetStatus(remote.FeedConnected)
	cancel()
	h.SetStatus(remote.FeedDisconnected)

	assert.Zero(t, calls)
	assert.Equal(t, []remote.FeedStatus{remote.FeedDisconnected, remote.FeedConnected}, statuses)
}

func TestHub_Listen(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Listen(ctx, remote.KindComment, remote.KindNotification)

	h.Publish(remote.Change{Kind: remote.KindNotification, Type: remote.ChangeInsert, Record: remote.Record{"id": "n1"}})
	h.Publish(remote.Change{Kind: remote.KindVote, Type: remote.ChangeInsert, Record: remote.Record{"id": "v1"}})

	got := <-ch
	assert.Equal(t, remote.KindNotification, got.Kind)
	assert.Equal(t, "n1", got.Record.ID())

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ListenDisconnectsSlowReader(t *testing.T) {
	h := NewHub(nil)
	ch := h.Listen(context.Background(), remote.KindComment)

	for i := 0; i <= ListenBuffer; i++ {
		h.Publish(remote.Change{Kind: remote.KindComment, Type: remote.ChangeInsert, Record: remote.Record{"id": "c"}})
	}

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, ListenBuffer, n)
}
