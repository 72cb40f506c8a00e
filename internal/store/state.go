package store

import "github.com/UkralStul/feedsync/internal/domain"

// SliceName - имя среза нормализованного состояния.
type SliceName string

const (
	SliceComments      SliceName = "comments"
	SliceReplies       SliceName = "replies"
	SliceFriendships   SliceName = "friendships"
	SliceNotifications SliceName = "notifications"
)

// AllSlices перечисляет все срезы состояния.
var AllSlices = []SliceName{SliceComments, SliceReplies, SliceFriendships, SliceNotifications}

// State - неизменяемый снимок нормализованного состояния.
// Нетронутые ветви разделяются между версиями состояния.
type State struct {
	// Comments - комментарии верхнего уровня по id поста.
	Comments *Slice[*domain.Comment]
	// Replies - ответы по id родительского комментария.
	Replies *Slice[*domain.Comment]
	// Friendships - отношения по id участника (каждое лежит под обоими участниками).
	Friendships *Slice[*domain.Friendship]
	// Notifications - уведомления по id получателя.
	Notifications *Slice[*domain.Notification]

	pendingDeletes map[string]struct{}
	tombstones     map[string]struct{}
}

// Empty возвращает пустое состояние.
func Empty() *State {
	return &State{}
}

// PendingDelete сообщает, удалена ли сущность оптимистично и ждет подтверждения.
func (s *State) PendingDelete(id string) bool {
	_, ok := s.pendingDeletes[id]
	return ok
}

// Tombstoned сообщает, было ли удаление сущности подтверждено.
func (s *State) Tombstoned(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// FindComment ищет комментарий среди корневых и ответов.
func (s *State) FindComment(id string) (SliceName, string, *domain.Comment, bool) {
	if key, c, ok := s.Comments.Find(id); ok {
		return SliceComments, key, c, true
	}
	if key, c, ok := s.Replies.Find(id); ok {
		return SliceReplies, key, c, true
	}
	return "", "", nil, false
}

// CommentRef возвращает ссылку на ключ, под которым лежит комментарий.
func CommentRef(c *domain.Comment) Ref {
	if c.ParentID != nil {
		return Ref{Slice: SliceReplies, Key: *c.ParentID}
	}
	return Ref{Slice: SliceComments, Key: c.PostID}
}

// Stale сообщает, помечен ли ключ устаревшим.
func (s *State) Stale(ref Ref) bool {
	switch ref.Slice {
	case SliceComments:
		b := s.Comments.Bucket(ref.Key)
		return b != nil && b.Stale
	case SliceReplies:
		b := s.Replies.Bucket(ref.Key)
		return b != nil && b.Stale
	case SliceFriendships:
		b := s.Friendships.Bucket(ref.Key)
		return b != nil && b.Stale
	case SliceNotifications:
		b := s.Notifications.Bucket(ref.Key)
		return b != nil && b.Stale
	}
	return false
}

// StaleRefs возвращает все устаревшие ключи.
func (s *State) StaleRefs() []Ref {
	var refs []Ref
	for _, k := range s.Comments.StaleKeys() {
		refs = append(refs, Ref{Slice: SliceComments, Key: k})
	}
	for _, k := range s.Replies.StaleKeys() {
		refs = append(refs, Ref{Slice: SliceReplies, Key: k})
	}
	for _, k := range s.Friendships.StaleKeys() {
		refs = append(refs, Ref{Slice: SliceFriendships, Key: k})
	}
	for _, k := range s.Notifications.StaleKeys() {
		refs = append(refs, Ref{Slice: SliceNotifications, Key: k})
	}
	return refs
}

func (s *State) clone() *State {
	cp := *s
	return &cp
}

func withID(set map[string]struct{}, ids ...string) map[string]struct{} {
	next := make(map[string]struct{}, len(set)+len(ids))
	for k := range set {
		next[k] = struct{}{}
	}
	for _, id := range ids {
		next[id] = struct{}{}
	}
	return next
}

func withoutID(set map[string]struct{}, ids ...string) map[string]struct{} {
	found := false
	for _, id := range ids {
		if _, ok := set[id]; ok {
			found = true
			break
		}
	}
	if !found {
		return set
	}
	next := make(map[string]struct{}, len(set))
	for k := range set {
		next[k] = struct{}{}
	}
	for _, id := range ids {
		delete(next, id)
	}
	return next
}

// Ref указывает на ключ среза.
type Ref struct {
	Slice SliceName
	Key   string
}

// Snapshot хранит ссылки на Bucket'ы выбранных ключей (без глубокого копирования).
type Snapshot struct {
	comments      map[string]*Bucket[*domain.Comment]
	replies       map[string]*Bucket[*domain.Comment]
	friendships   map[string]*Bucket[*domain.Friendship]
	notifications map[string]*Bucket[*domain.Notification]
}

// Refs возвращает ключи, попавшие в снимок.
func (sn Snapshot) Refs() []Ref {
	var refs []Ref
	for k := range sn.comments {
		refs = append(refs, Ref{Slice: SliceComments, Key: k})
	}
	for k := range sn.replies {
		refs = append(refs, Ref{Slice: SliceReplies, Key: k})
	}
	for k := range sn.friendships {
		refs = append(refs, Ref{Slice: SliceFriendships, Key: k})
	}
	for k := range sn.notifications {
		refs = append(refs, Ref{Slice: SliceNotifications, Key: k})
	}
	return refs
}

// Capture запоминает текущие Bucket'ы для указанных ключей.
func (s *State) Capture(refs ...Ref) Snapshot {
	sn := Snapshot{
		comments:      map[string]*Bucket[*domain.Comment]{},
		replies:       map[string]*Bucket[*domain.Comment]{},
		friendships:   map[string]*Bucket[*domain.Friendship]{},
		notifications: map[string]*Bucket[*domain.Notification]{},
	}
	for _, ref := range refs {
		switch ref.Slice {
		case SliceComments:
			sn.comments[ref.Key] = s.Comments.Bucket(ref.Key)
		case SliceReplies:
			sn.replies[ref.Key] = s.Replies.Bucket(ref.Key)
		case SliceFriendships:
			sn.friendships[ref.Key] = s.Friendships.Bucket(ref.Key)
		case SliceNotifications:
			sn.notifications[ref.Key] = s.Notifications.Bucket(ref.Key)
		}
	}
	return sn
}
