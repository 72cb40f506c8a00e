package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/feedsync/internal/domain"
)

// Gateway - типизированная обертка над Client. Все записи проходят
// декодирование и валидацию, прежде чем попасть в хранилище.
type Gateway struct {
	client   Client
	identity Identity
	replies  *dataloader.Loader
}

// NewGateway создает шлюз. Ответы на комментарии грузятся батчами:
// запросы, пришедшие в пределах wait, объединяются в один Fetch.
func NewGateway(client Client, identity Identity, wait time.Duration) *Gateway {
	g := &Gateway{client: client, identity: identity}
	if wait <= 0 {
		wait = time.Millisecond
	}
	g.replies = dataloader.NewBatchedLoader(g.batchReplies,
		dataloader.WithWait(wait),
		dataloader.WithCache(&dataloader.NoCache{}),
	)
	return g
}

// Client возвращает нижележащий клиент.
func (g *Gateway) Client() Client { return g.client }

func (g *Gateway) viewerFilter(f Filter) Filter {
	if userID, ok := g.identity.CurrentUserID(); ok {
		f["viewer_id"] = userID
	}
	return f
}

// === Комментарии ===

// Comments загружает комментарии верхнего уровня поста.
func (g *Gateway) Comments(ctx context.Context, postID string, page Page) ([]*domain.Comment, error) {
	recs, err := g.client.Fetch(ctx, KindComment, g.viewerFilter(Filter{"post_id": postID, "parent_id": ""}), page)
	if err != nil {
		return nil, fmt.Errorf("fetch comments of post %s: %w", postID, err)
	}
	return decodeAll(recs, DecodeComment)
}

// Replies загружает ответы на комментарий. Одновременные вызовы объединяются.
func (g *Gateway) Replies(ctx context.Context, parentID string) ([]*domain.Comment, error) {
	v, err := g.replies.Load(ctx, dataloader.StringKey(parentID))()
	if err != nil {
		return nil, err
	}
	replies, _ := v.([]*domain.Comment)
	return replies, nil
}

func (g *Gateway) batchReplies(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
	parentIDs := keys.Keys()
	results := make([]*dataloader.Result, len(keys))

	recs, err := g.client.Fetch(ctx, KindComment, g.viewerFilter(Filter{"parent_id": strings.Join(parentIDs, ",")}), Page{})
	var grouped map[string][]*domain.Comment
	if err == nil {
		var comments []*domain.Comment
		comments, err = decodeAll(recs, DecodeComment)
		grouped = make(map[string][]*domain.Comment, len(parentIDs))
		for _, c := range comments {
			if c.ParentID != nil {
				grouped[*c.ParentID] = append(grouped[*c.ParentID], c)
			}
		}
	}
	for i, parentID := range parentIDs {
		if err != nil {
			results[i] = &dataloader.Result{Error: fmt.Errorf("fetch replies of %s: %w", parentID, err)}
			continue
		}
		replies := grouped[parentID]
		if replies == nil {
			replies = []*domain.Comment{}
		}
		results[i] = &dataloader.Result{Data: replies}
	}
	return results
}

// CreateComment создает комментарий и возвращает серверную версию.
func (g *Gateway) CreateComment(ctx context.Context, c *domain.Comment) (*domain.Comment, error) {
	payload := Record{
		"post_id": c.PostID,
		"user_id": c.UserID,
		"content": c.Content,
	}
	if c.ParentID != nil {
		payload["parent_id"] = *c.ParentID
	}
	rec, err := g.client.Create(ctx, KindComment, payload)
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return DecodeComment(rec)
}

// UpdateComment меняет текст комментария.
func (g *Gateway) UpdateComment(ctx context.Context, id, content string) (*domain.Comment, error) {
	rec, err := g.client.Update(ctx, KindComment, id, Record{"content": content})
	if err != nil {
		return nil, fmt.Errorf("update comment %s: %w", id, err)
	}
	return DecodeComment(rec)
}

// DeleteComment удаляет комментарий.
func (g *Gateway) DeleteComment(ctx context.Context, id string) error {
	if err := g.client.Delete(ctx, KindComment, id); err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	return nil
}

// === Голоса ===

// CastVote переводит голос пользователя из current в next одним запросом:
// создание, смена типа или удаление записи голоса.
func (g *Gateway) CastVote(ctx context.Context, userID, commentID string, current, next domain.VoteType) error {
	id := domain.VoteID(userID, commentID)
	var err error
	switch {
	case current == next:
		return nil
	case current == domain.VoteNone:
		_, err = g.client.Create(ctx, KindVote, Record{"user_id": userID, "comment_id": commentID, "vote_type": string(next)})
	case next == domain.VoteNone:
		err = g.client.Delete(ctx, KindVote, id)
	default:
		_, err = g.client.Update(ctx, KindVote, id, Record{"vote_type": string(next)})
	}
	if err != nil {
		return fmt.Errorf("vote %s on comment %s: %w", next, commentID, err)
	}
	return nil
}

// Tally загружает авторитетные счетчики голосов и голос текущего пользователя.
func (g *Gateway) Tally(ctx context.Context, commentID string) (domain.Tally, domain.VoteType, error) {
	recs, err := g.client.Fetch(ctx, KindVoteTally, g.viewerFilter(Filter{"comment_id": commentID}), Page{Limit: 1})
	if err != nil {
		return domain.Tally{}, domain.VoteNone, fmt.Errorf("fetch tally of %s: %w", commentID, err)
	}
	if len(recs) == 0 {
		return domain.Tally{CommentID: commentID}, domain.VoteNone, nil
	}
	return DecodeTally(recs[0])
}

// === Дружба ===

// Friendships загружает отношения пользователя (в обе стороны).
func (g *Gateway) Friendships(ctx context.Context, userID string) ([]*domain.Friendship, error) {
	recs, err := g.client.Fetch(ctx, KindFriendship, Filter{"participant_id": userID}, Page{})
	if err != nil {
		return nil, fmt.Errorf("fetch friendships of %s: %w", userID, err)
	}
	return decodeAll(recs, DecodeFriendship)
}

// RequestFriendship создает заявку в друзья.
func (g *Gateway) RequestFriendship(ctx context.Context, userID, friendID string) (*domain.Friendship, error) {
	rec, err := g.client.Create(ctx, KindFriendship, Record{"user_id": userID, "friend_id": friendID})
	if err != nil {
		return nil, fmt.Errorf("request friendship %s -> %s: %w", userID, friendID, err)
	}
	return DecodeFriendship(rec)
}

// SetFriendshipStatus меняет статус отношения от имени текущего пользователя.
func (g *Gateway) SetFriendshipStatus(ctx context.Context, id string, status domain.FriendshipStatus) (*domain.Friendship, error) {
	patch := Record{"status": string(status)}
	if uid, ok := g.identity.CurrentUserID(); ok {
		patch["actor_id"] = uid
	}
	rec, err := g.client.Update(ctx, KindFriendship, id, patch)
	if err != nil {
		return nil, fmt.Errorf("set friendship %s to %s: %w", id, status, err)
	}
	return DecodeFriendship(rec)
}

// DeleteFriendship удаляет отношение.
func (g *Gateway) DeleteFriendship(ctx context.Context, id string) error {
	if err := g.client.Delete(ctx, KindFriendship, id); err != nil {
		return fmt.Errorf("delete friendship %s: %w", id, err)
	}
	return nil
}

// === Уведомления ===

// Notifications загружает уведомления пользователя.
func (g *Gateway) Notifications(ctx context.Context, userID string, page Page) ([]*domain.Notification, error) {
	recs, err := g.client.Fetch(ctx, KindNotification, Filter{"user_id": userID}, page)
	if err != nil {
		return nil, fmt.Errorf("fetch notifications of %s: %w", userID, err)
	}
	return decodeAll(recs, DecodeNotification)
}

// UnreadCount считает непрочитанные уведомления на сервере.
func (g *Gateway) UnreadCount(ctx context.Context, userID string) (int, error) {
	recs, err := g.client.Fetch(ctx, KindNotification, Filter{"user_id": userID, "read": strconv.FormatBool(false)}, Page{})
	if err != nil {
		return 0, fmt.Errorf("fetch unread count of %s: %w", userID, err)
	}
	return len(recs), nil
}

// MarkNotificationRead меняет флаг прочтения.
func (g *Gateway) MarkNotificationRead(ctx context.Context, id string, read bool) (*domain.Notification, error) {
	rec, err := g.client.Update(ctx, KindNotification, id, Record{"read": read})
	if err != nil {
		return nil, fmt.Errorf("mark notification %s: %w", id, err)
	}
	return DecodeNotification(rec)
}

// DeleteNotification удаляет уведомление.
func (g *Gateway) DeleteNotification(ctx context.Context, id string) error {
	if err := g.client.Delete(ctx, KindNotification, id); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

func decodeAll[T any](recs []Record, fn func(Record) (T, error)) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := fn(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
