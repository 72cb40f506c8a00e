package optimistic

import (
	"context"
	"fmt"
	"strings"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/store"
	"github.com/UkralStul/feedsync/internal/votes"
)

// CreateCommentInput - данные нового комментария.
type CreateCommentInput struct {
	PostID   string  `validate:"required"`
	ParentID *string `validate:"omitempty,min=1"`
	Content  string  `validate:"required,max=2000"`
}

type updateCommentInput struct {
	ID      string `validate:"required"`
	Content string `validate:"required,max=2000"`
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &remote.ValidationError{Field: "content", Reason: "cannot be empty"}
	}
	return nil
}

// CreateComment добавляет комментарий с временным id и заменяет его
// серверным после ответа.
func (c *Coordinator) CreateComment(ctx context.Context, in CreateCommentInput) (*domain.Comment, error) {
	uid, err := c.userID()
	if err != nil {
		return nil, err
	}
	if err := remote.Validate(in); err != nil {
		return nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	if in.ParentID != nil && domain.IsPlaceholderID(*in.ParentID) {
		return nil, &remote.ValidationError{Field: "parentid", Reason: "refers to an unconfirmed comment"}
	}

	now := c.now()
	placeholder := &domain.Comment{
		ID:        placeholderID(),
		PostID:    in.PostID,
		ParentID:  in.ParentID,
		UserID:    uid,
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
		Pending:   true,
	}

	var created *domain.Comment
	err = c.run(ctx, "create_comment", commentKey(placeholder.ID), func(st *store.State) (step, error) {
		if in.ParentID != nil && st.Tombstoned(*in.ParentID) {
			return step{}, fmt.Errorf("parent comment %s: %w", *in.ParentID, remote.ErrNotFound)
		}
		return step{
			refs:  []store.Ref{store.CommentRef(placeholder)},
			patch: []store.Action{store.CommentUpserted{Comment: placeholder}},
			call: func(ctx context.Context) ([]store.Action, error) {
				var err error
				created, err = c.gw.CreateComment(ctx, placeholder)
				if err != nil {
					return nil, err
				}
				return []store.Action{store.PlaceholderResolved{PlaceholderID: placeholder.ID, Comment: created}}, nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateComment меняет текст комментария.
func (c *Coordinator) UpdateComment(ctx context.Context, id, content string) (*domain.Comment, error) {
	if _, err := c.userID(); err != nil {
		return nil, err
	}
	if err := remote.Validate(updateCommentInput{ID: id, Content: content}); err != nil {
		return nil, err
	}
	if err := validateContent(content); err != nil {
		return nil, err
	}
	if err := confirmedID(id); err != nil {
		return nil, err
	}

	var updated *domain.Comment
	err := c.run(ctx, "update_comment", commentKey(id), func(st *store.State) (step, error) {
		existing, err := liveComment(st, id)
		if err != nil {
			return step{}, err
		}
		return step{
			refs:  []store.Ref{store.CommentRef(existing)},
			patch: []store.Action{store.CommentPatched{ID: id, Content: &content, UpdatedAt: c.now()}},
			call: func(ctx context.Context) ([]store.Action, error) {
				var err error
				updated, err = c.gw.UpdateComment(ctx, id, content)
				if err != nil {
					return nil, err
				}
				return []store.Action{store.CommentPatched{ID: id, Content: &updated.Content, UpdatedAt: updated.UpdatedAt}}, nil
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteComment убирает комментарий вместе с ответами сразу, а подтверждение
// сервера превращает ожидающее удаление в окончательное.
func (c *Coordinator) DeleteComment(ctx context.Context, id string) error {
	if _, err := c.userID(); err != nil {
		return err
	}
	if err := confirmedID(id); err != nil {
		return err
	}
	return c.run(ctx, "delete_comment", commentKey(id), func(st *store.State) (step, error) {
		existing, err := liveComment(st, id)
		if err != nil {
			return step{}, err
		}
		refs := append([]store.Ref{store.CommentRef(existing)}, replyRefs(st, id)...)
		return step{
			refs:     refs,
			patch:    []store.Action{store.CommentRemoved{ID: id, Optimistic: true}},
			reverted: []string{id},
			call: func(ctx context.Context) ([]store.Action, error) {
				if err := c.gw.DeleteComment(ctx, id); err != nil {
					return nil, err
				}
				return []store.Action{store.CommentRemoved{ID: id}}, nil
			},
		}, nil
	})
}

// Vote применяет голос текущего пользователя. Повторный голос того же типа
// снимает голос. После ответа сервера счетчики перечитываются.
func (c *Coordinator) Vote(ctx context.Context, commentID string, requested domain.VoteType) error {
	uid, err := c.userID()
	if err != nil {
		return err
	}
	if !requested.Valid() {
		return &remote.ValidationError{Field: "vote_type", Reason: "must be one of up down"}
	}
	if err := confirmedID(commentID); err != nil {
		return err
	}

	err = c.run(ctx, "vote", commentKey(commentID), func(st *store.State) (step, error) {
		existing, err := liveComment(st, commentID)
		if err != nil {
			return step{}, err
		}
		current := existing.UserVote
		next, _ := votes.Transition(current, requested)
		return step{
			refs:  []store.Ref{store.CommentRef(existing)},
			patch: []store.Action{store.VoteApplied{CommentID: commentID, Requested: requested}},
			call: func(ctx context.Context) ([]store.Action, error) {
				if err := c.gw.CastVote(ctx, uid, commentID, current, next); err != nil {
					return nil, err
				}
				// Локальные счетчики заменяются авторитетными. Голос уже
				// принят, поэтому сбой чтения только логируется.
				if err := c.loader.RefreshTally(ctx, commentID); err != nil {
					c.logger.Warn("tally refresh after vote failed", "comment_id", commentID, "error", err)
				}
				return nil, nil
			},
		}, nil
	})
	if Classify(err) == ClassConflict {
		// Голос на сервере не совпал с локальным, перечитываем.
		if rerr := c.loader.RefreshTally(ctx, commentID); rerr != nil {
			c.logger.Warn("tally refresh after vote conflict failed", "comment_id", commentID, "error", rerr)
		}
	}
	return err
}

func liveComment(st *store.State, id string) (*domain.Comment, error) {
	if st.PendingDelete(id) || st.Tombstoned(id) {
		return nil, fmt.Errorf("comment %s: %w", id, remote.ErrNotFound)
	}
	_, _, existing, ok := st.FindComment(id)
	if !ok {
		return nil, fmt.Errorf("comment %s is not loaded: %w", id, remote.ErrNotFound)
	}
	return existing, nil
}

// replyRefs собирает ключи ответов комментария рекурсивно.
func replyRefs(st *store.State, id string) []store.Ref {
	b := st.Replies.Bucket(id)
	if b == nil {
		return nil
	}
	refs := []store.Ref{{Slice: store.SliceReplies, Key: id}}
	for _, r := range b.Items {
		refs = append(refs, replyRefs(st, r.ID)...)
	}
	return refs
}
