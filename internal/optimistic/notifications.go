package optimistic

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

// MarkNotificationRead отмечает уведомление прочитанным.
func (c *Coordinator) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	if err := confirmedID(id); err != nil {
		return err
	}
	return c.run(ctx, "mark_notification_read", notificationKey(id), func(st *store.State) (step, error) {
		n, err := liveNotification(st, id)
		if err != nil {
			return step{}, err
		}
		return step{
			refs:  []store.Ref{{Slice: store.SliceNotifications, Key: n.UserID}},
			patch: []store.Action{store.NotificationRead{ID: id, Read: true}},
			call: func(ctx context.Context) ([]store.Action, error) {
				updated, err := c.gw.MarkNotificationRead(ctx, id, true)
				if err != nil {
					return nil, err
				}
				return []store.Action{store.NotificationUpserted{Notification: updated}}, nil
			},
		}, nil
	})
}

// MarkNotificationsRead отмечает несколько уведомлений. Каждая позиция
// выполняется и откатывается отдельно, результат сообщает исход каждой.
func (c *Coordinator) MarkNotificationsRead(ctx context.Context, ids []string) []ItemResult {
	results := make([]ItemResult, len(ids))
	var g errgroup.Group
	g.SetLimit(BatchParallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = ItemResult{ID: id, Err: c.MarkNotificationRead(ctx, id)}
			return nil
		})
	}
	// Горутины не возвращают ошибок, исход каждой позиции уже в results.
	g.Wait()
	return results
}

// MarkAllNotificationsRead отмечает все непрочитанные уведомления текущего пользователя.
func (c *Coordinator) MarkAllNotificationsRead(ctx context.Context) ([]ItemResult, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, n := range c.store.State().Notifications.Items(uid) {
		if !n.Read {
			ids = append(ids, n.ID)
		}
	}
	return c.MarkNotificationsRead(ctx, ids), nil
}

// DeleteNotification удаляет уведомление.
func (c *Coordinator) DeleteNotification(ctx context.Context, id string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	if err := confirmedID(id); err != nil {
		return err
	}
	return c.run(ctx, "delete_notification", notificationKey(id), func(st *store.State) (step, error) {
		n, err := liveNotification(st, id)
		if err != nil {
			return step{}, err
		}
		return step{
			refs:     []store.Ref{{Slice: store.SliceNotifications, Key: n.UserID}},
			patch:    []store.Action{store.NotificationRemoved{ID: id, Optimistic: true}},
			reverted: []string{id},
			call: func(ctx context.Context) ([]store.Action, error) {
				if err := c.gw.DeleteNotification(ctx, id); err != nil {
					return nil, err
				}
				return []store.Action{store.NotificationRemoved{ID: id}}, nil
			},
		}, nil
	})
}

func liveNotification(st *store.State, id string) (*domain.Notification, error) {
	if st.PendingDelete(id) || st.Tombstoned(id) {
		return nil, fmt.Errorf("notification %s: %w", id, remote.ErrNotFound)
	}
	_, n, ok := st.Notifications.Find(id)
	if !ok {
		return nil, fmt.Errorf("notification %s is not loaded: %w", id, remote.ErrNotFound)
	}
	return n, nil
}
