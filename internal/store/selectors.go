package store

import (
	"sort"

	"github.com/UkralStul/feedsync/internal/domain"
)

// CommentsOf - селектор комментариев верхнего уровня поста.
func CommentsOf(postID string) func(*State) *Bucket[*domain.Comment] {
	return func(s *State) *Bucket[*domain.Comment] { return s.Comments.Bucket(postID) }
}

// RepliesOf - селектор ответов на комментарий.
func RepliesOf(parentID string) func(*State) *Bucket[*domain.Comment] {
	return func(s *State) *Bucket[*domain.Comment] { return s.Replies.Bucket(parentID) }
}

// FriendshipsOf - селектор отношений пользователя.
func FriendshipsOf(userID string) func(*State) *Bucket[*domain.Friendship] {
	return func(s *State) *Bucket[*domain.Friendship] { return s.Friendships.Bucket(userID) }
}

// NotificationsOf - селектор уведомлений пользователя.
func NotificationsOf(userID string) func(*State) *Bucket[*domain.Notification] {
	return func(s *State) *Bucket[*domain.Notification] { return s.Notifications.Bucket(userID) }
}

// UnreadCount - селектор числа непрочитанных уведомлений.
func UnreadCount(userID string) func(*State) int {
	return func(s *State) int {
		n := 0
		for _, item := range s.Notifications.Items(userID) {
			if !item.Read {
				n++
			}
		}
		return n
	}
}

// Friends возвращает id принятых друзей пользователя.
func Friends(s *State, userID string) []string {
	var ids []string
	for _, f := range s.Friendships.Items(userID) {
		if f.Status == domain.FriendshipAccepted {
			ids = append(ids, f.Other(userID))
		}
	}
	return ids
}

// IncomingRequests возвращает входящие заявки в друзья, ожидающие ответа.
func IncomingRequests(s *State, userID string) []*domain.Friendship {
	var out []*domain.Friendship
	for _, f := range s.Friendships.Items(userID) {
		if f.Status == domain.FriendshipPending && f.FriendID == userID {
			out = append(out, f)
		}
	}
	return out
}

// Relationship возвращает активное отношение между двумя пользователями.
func Relationship(s *State, userID, otherID string) (*domain.Friendship, bool) {
	key := domain.PairKey(userID, otherID)
	for _, f := range s.Friendships.Items(userID) {
		if f.Active() && f.PairKey() == key {
			return f, true
		}
	}
	return nil, false
}

// SortMode - порядок отображения комментариев.
type SortMode string

const (
	// SortInsertion - порядок вставки (по умолчанию).
	SortInsertion SortMode = ""
	SortOldest    SortMode = "oldest"
	SortNewest    SortMode = "newest"
	SortTop       SortMode = "top"
)

// Sorted возвращает копию комментариев в нужном порядке. Исходный срез не меняется.
func Sorted(items []*domain.Comment, mode SortMode) []*domain.Comment {
	out := make([]*domain.Comment, len(items))
	copy(out, items)
	switch mode {
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	case SortTop:
		// При равном счете выше более ранний комментарий.
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out
}
