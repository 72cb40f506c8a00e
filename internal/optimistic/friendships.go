package optimistic

import (
	"context"
	"fmt"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
)

type friendRequestInput struct {
	UserID   string `validate:"required"`
	FriendID string `validate:"required,nefield=UserID"`
}

// SendFriendRequest создает заявку в друзья с временным id.
func (c *Coordinator) SendFriendRequest(ctx context.Context, friendID string) (*domain.Friendship, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	if err := remote.Validate(friendRequestInput{UserID: uid, FriendID: friendID}); err != nil {
		return nil, err
	}

	now := c.now()
	placeholder := &domain.Friendship{
		ID:        placeholderID(),
		UserID:    uid,
		FriendID:  friendID,
		Status:    domain.FriendshipPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var created *domain.Friendship
	err = c.run(ctx, "send_friend_request", friendshipKey(placeholder.PairKey()), func(st *store.State) (step, error) {
		if existing, ok := store.Relationship(st, uid, friendID); ok {
			return step{}, fmt.Errorf("friendship with %s is already %s: %w", friendID, existing.Status, remote.ErrConflict)
		}
		return step{
			refs:  friendshipRefs(placeholder),
			patch: []store.Action{store.FriendshipUpserted{Friendship: placeholder}},
			call: func(ctx context.Context) ([]store.Action, error) {
				var err error
				created, err = c.gw.RequestFriendship(ctx, uid, friendID)
				if err != nil {
					return nil, err
				}
				return []store.Action{store.FriendshipReplaced{OldID: placeholder.ID, Friendship: created}}, nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RespondToFriendRequest принимает или отклоняет входящую заявку.
// Заявка, на которую уже ответили, дает ErrConflict от сервера.
func (c *Coordinator) RespondToFriendRequest(ctx context.Context, id string, accept bool) (*domain.Friendship, error) {
	status := domain.FriendshipRejected
	if accept {
		status = domain.FriendshipAccepted
	}
	return c.setFriendshipStatus(ctx, "respond_friend_request", id, status)
}

// Block блокирует отношение.
func (c *Coordinator) Block(ctx context.Context, id string) (*domain.Friendship, error) {
	return c.setFriendshipStatus(ctx, "block_friendship", id, domain.FriendshipBlocked)
}

func (c *Coordinator) setFriendshipStatus(ctx context.Context, op, id string, status domain.FriendshipStatus) (*domain.Friendship, error) {
	if _, err := c.userID(); err != nil {
		return nil, err
	}
	if err := confirmedID(id); err != nil {
		return nil, err
	}

	var updated *domain.Friendship
	err := c.runFriendship(ctx, op, id, func(st *store.State, f *domain.Friendship) (step, error) {
		next := f.Clone()
		next.Status = status
		next.UpdatedAt = c.now()
		return step{
			refs:  friendshipRefs(f),
			patch: []store.Action{store.FriendshipUpserted{Friendship: next}},
			call: func(ctx context.Context) ([]store.Action, error) {
				var err error
				updated, err = c.gw.SetFriendshipStatus(ctx, id, status)
				if err != nil {
					return nil, err
				}
				return []store.Action{store.FriendshipUpserted{Friendship: updated}}, nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveFriendship удаляет отношение (отзыв заявки или удаление из друзей).
func (c *Coordinator) RemoveFriendship(ctx context.Context, id string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	if err := confirmedID(id); err != nil {
		return err
	}
	return c.runFriendship(ctx, "remove_friendship", id, func(st *store.State, f *domain.Friendship) (step, error) {
		return step{
			refs:     friendshipRefs(f),
			patch:    []store.Action{store.FriendshipRemoved{ID: id, Optimistic: true}},
			reverted: []string{id},
			call: func(ctx context.Context) ([]store.Action, error) {
				if err := c.gw.DeleteFriendship(ctx, id); err != nil {
					return nil, err
				}
				return []store.Action{store.FriendshipRemoved{ID: id}}, nil
			},
		}, nil
	})
}

// runFriendship находит отношение в состоянии и выполняет мутацию
// в очереди пары его участников.
func (c *Coordinator) runFriendship(ctx context.Context, op, id string, plan func(*store.State, *domain.Friendship) (step, error)) error {
	_, f, ok := c.store.State().Friendships.Find(id)
	if !ok {
		return c.reject(op, fmt.Errorf("friendship %s is not loaded: %w", id, remote.ErrNotFound))
	}
	return c.run(ctx, op, friendshipKey(f.PairKey()), func(st *store.State) (step, error) {
		if st.PendingDelete(id) || st.Tombstoned(id) {
			return step{}, fmt.Errorf("friendship %s: %w", id, remote.ErrNotFound)
		}
		_, current, ok := st.Friendships.Find(id)
		if !ok {
			return step{}, fmt.Errorf("friendship %s is not loaded: %w", id, remote.ErrNotFound)
		}
		return plan(st, current)
	})
}

func friendshipRefs(f *domain.Friendship) []store.Ref {
	return []store.Ref{
		{Slice: store.SliceFriendships, Key: f.UserID},
		{Slice: store.SliceFriendships, Key: f.FriendID},
	}
}
