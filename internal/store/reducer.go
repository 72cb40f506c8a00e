package store

import (
	"log/slog"

	"github.com/UkralStul/feedsync/internal/domain"
	"github.com/UkralStul/feedsync/internal/metrics"
	"github.com/UkralStul/feedsync/internal/votes"
)

// Reduce применяет действие к состоянию и возвращает новое состояние.
// Неизвестные действия и действия без эффекта возвращают тот же указатель.
func Reduce(s *State, a Action) *State {
	if s == nil {
		s = Empty()
	}
	switch a := a.(type) {
	case FetchStarted:
		return s.setStatus(a.Slice, a.Key, StatusLoading, nil)
	case FetchFailed:
		return s.setStatus(a.Slice, a.Key, StatusFailure, a.Err)
	case CommentsLoaded:
		keep := func(c *domain.Comment) bool { return c.Pending }
		return s.withComments(s.Comments.Load(a.PostID, s.liveComments(a.Comments), keep))
	case RepliesLoaded:
		keep := func(c *domain.Comment) bool { return c.Pending }
		return s.withReplies(s.Replies.Load(a.ParentID, s.liveComments(a.Replies), keep))
	case FriendshipsLoaded:
		return s.loadFriendships(a)
	case NotificationsLoaded:
		return s.loadNotifications(a)
	case SlicesMarkedStale:
		return s.markStale(a.Slices)
	case CommentUpserted:
		return s.upsertComment(a.Comment)
	case CommentPatched:
		return s.patchComment(a)
	case CommentRemoved:
		return s.removeComment(a)
	case PlaceholderResolved:
		return s.resolvePlaceholder(a)
	case VoteApplied:
		return s.applyVote(a)
	case TallyRefreshed:
		return s.refreshTally(a)
	case FriendshipUpserted:
		return s.upsertFriendship(a.Friendship)
	case FriendshipReplaced:
		return s.replaceFriendship(a)
	case FriendshipRemoved:
		return s.withFriendships(s.Friendships.RemoveEverywhere(a.ID)).markRemoved(a.ID, a.Optimistic)
	case NotificationUpserted:
		return s.upsertNotification(a.Notification)
	case NotificationRead:
		return s.readNotification(a)
	case NotificationRemoved:
		return s.withNotifications(s.Notifications.RemoveEverywhere(a.ID)).markRemoved(a.ID, a.Optimistic)
	case SnapshotRestored:
		return s.restore(a)
	}
	return s
}

// === Помощники copy-on-write ===

func (s *State) withComments(next *Slice[*domain.Comment]) *State {
	if next == s.Comments {
		return s
	}
	ns := s.clone()
	ns.Comments = next
	return ns
}

func (s *State) withReplies(next *Slice[*domain.Comment]) *State {
	if next == s.Replies {
		return s
	}
	ns := s.clone()
	ns.Replies = next
	return ns
}

func (s *State) withFriendships(next *Slice[*domain.Friendship]) *State {
	if next == s.Friendships {
		return s
	}
	ns := s.clone()
	ns.Friendships = next
	return ns
}

func (s *State) withNotifications(next *Slice[*domain.Notification]) *State {
	if next == s.Notifications {
		return s
	}
	ns := s.clone()
	ns.Notifications = next
	return ns
}

func (s *State) commentSlice(name SliceName) *Slice[*domain.Comment] {
	if name == SliceReplies {
		return s.Replies
	}
	return s.Comments
}

func (s *State) withCommentSlice(name SliceName, next *Slice[*domain.Comment]) *State {
	if name == SliceReplies {
		return s.withReplies(next)
	}
	return s.withComments(next)
}

func (s *State) gone(id string) bool {
	return s.PendingDelete(id) || s.Tombstoned(id)
}

// markRemoved фиксирует удаление: оптимистичное - как ожидающее,
// подтвержденное - надгробием для id и зависимых сущностей.
func (s *State) markRemoved(id string, optimistic bool, dependents ...string) *State {
	if optimistic {
		if s.PendingDelete(id) {
			return s
		}
		ns := s.clone()
		ns.pendingDeletes = withID(s.pendingDeletes, id)
		return ns
	}
	ids := append([]string{id}, dependents...)
	missing := false
	for _, x := range ids {
		if !s.Tombstoned(x) {
			missing = true
			break
		}
	}
	pending := withoutID(s.pendingDeletes, id)
	if !missing && len(pending) == len(s.pendingDeletes) {
		return s
	}
	ns := s.clone()
	ns.pendingDeletes = pending
	if missing {
		ns.tombstones = withID(s.tombstones, ids...)
	}
	return ns
}

// === Загрузка ===

func (s *State) setStatus(name SliceName, key string, status Status, err error) *State {
	switch name {
	case SliceComments:
		return s.withComments(s.Comments.SetStatus(key, status, err))
	case SliceReplies:
		return s.withReplies(s.Replies.SetStatus(key, status, err))
	case SliceFriendships:
		return s.withFriendships(s.Friendships.SetStatus(key, status, err))
	case SliceNotifications:
		return s.withNotifications(s.Notifications.SetStatus(key, status, err))
	}
	return s
}

func (s *State) liveComments(in []*domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, 0, len(in))
	for _, c := range in {
		if c == nil || s.gone(c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *State) loadFriendships(a FriendshipsLoaded) *State {
	items := make([]*domain.Friendship, 0, len(a.Friendships))
	for _, f := range a.Friendships {
		if f == nil || s.gone(f.ID) {
			continue
		}
		items = append(items, f)
	}
	keep := func(f *domain.Friendship) bool { return domain.IsPlaceholderID(f.ID) }
	return s.withFriendships(s.Friendships.Load(a.UserID, items, keep))
}

func (s *State) loadNotifications(a NotificationsLoaded) *State {
	items := make([]*domain.Notification, 0, len(a.Notifications))
	for _, n := range a.Notifications {
		if n == nil || s.gone(n.ID) {
			continue
		}
		items = append(items, n)
	}
	return s.withNotifications(s.Notifications.Load(a.UserID, items, nil))
}

func (s *State) markStale(names []SliceName) *State {
	if len(names) == 0 {
		names = AllSlices
	}
	ns := s
	for _, name := range names {
		switch name {
		case SliceComments:
			ns = ns.withComments(ns.Comments.MarkStale())
		case SliceReplies:
			ns = ns.withReplies(ns.Replies.MarkStale())
		case SliceFriendships:
			ns = ns.withFriendships(ns.Friendships.MarkStale())
		case SliceNotifications:
			ns = ns.withNotifications(ns.Notifications.MarkStale())
		}
	}
	return ns
}

// === Комментарии ===

func (s *State) upsertComment(c *domain.Comment) *State {
	if c == nil || s.gone(c.ID) {
		return s
	}
	if c.ParentID != nil && s.gone(*c.ParentID) {
		return s
	}
	if name, key, existing, ok := s.FindComment(c.ID); ok {
		merged := existing.Clone()
		merged.Content = c.Content
		if !c.UpdatedAt.IsZero() {
			merged.UpdatedAt = c.UpdatedAt
		}
		merged.Pending = c.Pending
		return s.withCommentSlice(name, s.commentSlice(name).Upsert(key, merged))
	}
	ref := CommentRef(c)
	return s.withCommentSlice(ref.Slice, s.commentSlice(ref.Slice).Upsert(ref.Key, c))
}

func (s *State) patchComment(a CommentPatched) *State {
	if s.gone(a.ID) {
		return s
	}
	name, key, existing, ok := s.FindComment(a.ID)
	if !ok {
		return s
	}
	merged := existing.Clone()
	if a.Content != nil {
		merged.Content = *a.Content
	}
	if !a.UpdatedAt.IsZero() {
		merged.UpdatedAt = a.UpdatedAt
	}
	return s.withCommentSlice(name, s.commentSlice(name).Upsert(key, merged))
}

func (s *State) removeComment(a CommentRemoved) *State {
	ns := s
	if name, key, _, ok := s.FindComment(a.ID); ok {
		ns = ns.withCommentSlice(name, ns.commentSlice(name).Remove(key, a.ID))
	}
	ns, dependents := ns.purgeReplies(a.ID)
	return ns.markRemoved(a.ID, a.Optimistic, dependents...)
}

// purgeReplies удаляет ключ ответов комментария целиком, рекурсивно для ответов на ответы.
func (s *State) purgeReplies(id string) (*State, []string) {
	b := s.Replies.Bucket(id)
	if b == nil {
		return s, nil
	}
	ns := s.withReplies(s.Replies.Drop(id))
	var removed []string
	for _, r := range b.Items {
		removed = append(removed, r.ID)
		var sub []string
		ns, sub = ns.purgeReplies(r.ID)
		removed = append(removed, sub...)
	}
	return ns, removed
}

func (s *State) resolvePlaceholder(a PlaceholderResolved) *State {
	if a.Comment == nil {
		return s
	}
	c := a.Comment.Clone()
	c.Pending = false
	name, key, _, ok := s.FindComment(a.PlaceholderID)
	if s.gone(c.ID) {
		if ok {
			return s.withCommentSlice(name, s.commentSlice(name).Remove(key, a.PlaceholderID))
		}
		return s
	}
	if !ok {
		// Плейсхолдер уже убран. Подтверждение обновляет только живую запись.
		if _, _, _, exists := s.FindComment(c.ID); exists {
			return s.upsertComment(c)
		}
		return s
	}
	return s.withCommentSlice(name, s.commentSlice(name).ReplaceAt(key, a.PlaceholderID, c))
}

func (s *State) applyVote(a VoteApplied) *State {
	name, key, c, ok := s.FindComment(a.CommentID)
	if !ok {
		return s
	}
	next, delta := votes.Transition(c.UserVote, a.Requested)
	if next == c.UserVote && delta == (votes.Delta{}) {
		return s
	}
	counts, clean := votes.FromComment(c).Apply(delta)
	if !clean {
		clampWarning(c.ID, c.Upvotes, c.Downvotes)
	}
	cp := c.Clone()
	cp.Upvotes, cp.Downvotes, cp.Score = counts.Up, counts.Down, counts.Score
	cp.UserVote = next
	return s.withCommentSlice(name, s.commentSlice(name).Upsert(key, cp))
}

func (s *State) refreshTally(a TallyRefreshed) *State {
	name, key, c, ok := s.FindComment(a.CommentID)
	if !ok {
		return s
	}
	if a.Upvotes < 0 || a.Downvotes < 0 {
		clampWarning(c.ID, a.Upvotes, a.Downvotes)
	}
	counts := votes.FromTally(a.Upvotes, a.Downvotes)
	cp := c.Clone()
	cp.Upvotes, cp.Downvotes, cp.Score = counts.Up, counts.Down, counts.Score
	if a.UserVote != nil {
		cp.UserVote = *a.UserVote
	}
	return s.withCommentSlice(name, s.commentSlice(name).Upsert(key, cp))
}

func clampWarning(commentID string, up, down int) {
	metrics.ClampWarnings.Inc()
	slog.Warn("vote counters clamped at zero",
		"component", "store",
		"comment_id", commentID,
		"upvotes", up,
		"downvotes", down)
}

// === Дружба ===

func (s *State) upsertFriendship(f *domain.Friendship) *State {
	if f == nil || s.gone(f.ID) {
		return s
	}
	next := s.Friendships
	if f.Active() {
		for _, key := range []string{f.UserID, f.FriendID} {
			for _, other := range next.Items(key) {
				if other.ID != f.ID && other.Active() && other.PairKey() == f.PairKey() {
					next = next.Remove(key, other.ID)
				}
			}
		}
	}
	next = next.Upsert(f.UserID, f).Upsert(f.FriendID, f)
	return s.withFriendships(next)
}

func (s *State) replaceFriendship(a FriendshipReplaced) *State {
	f := a.Friendship
	if f == nil {
		return s
	}
	_, _, found := s.Friendships.Find(a.OldID)
	if s.gone(f.ID) {
		return s.withFriendships(s.Friendships.RemoveEverywhere(a.OldID))
	}
	if !found {
		if _, _, exists := s.Friendships.Find(f.ID); exists {
			return s.upsertFriendship(f)
		}
		return s
	}
	next := s.Friendships
	for _, key := range []string{f.UserID, f.FriendID} {
		next = next.ReplaceAt(key, a.OldID, f)
	}
	next = next.RemoveEverywhere(a.OldID)
	return s.withFriendships(next).upsertFriendship(f)
}

// === Уведомления ===

func (s *State) upsertNotification(n *domain.Notification) *State {
	if n == nil || s.gone(n.ID) {
		return s
	}
	return s.withNotifications(s.Notifications.Upsert(n.UserID, n))
}

func (s *State) readNotification(a NotificationRead) *State {
	key, n, ok := s.Notifications.Find(a.ID)
	if !ok || n.Read == a.Read {
		return s
	}
	cp := n.Clone()
	cp.Read = a.Read
	return s.withNotifications(s.Notifications.Upsert(key, cp))
}

// === Откат ===

func (s *State) restore(a SnapshotRestored) *State {
	ns := s
	if pending := withoutID(ns.pendingDeletes, a.Reverted...); len(pending) != len(ns.pendingDeletes) {
		ns = ns.clone()
		ns.pendingDeletes = pending
	}
	gone := ns.gone
	ns = ns.withComments(restoreSlice(ns.Comments, a.Before.comments, a.After.comments, a.Err, gone))
	ns = ns.withReplies(restoreSlice(ns.Replies, a.Before.replies, a.After.replies, a.Err, gone))
	ns = ns.withFriendships(restoreSlice(ns.Friendships, a.Before.friendships, a.After.friendships, a.Err, gone))
	ns = ns.withNotifications(restoreSlice(ns.Notifications, a.Before.notifications, a.After.notifications, a.Err, gone))
	return ns
}

// restoreSlice возвращает ключам состояние из before. Ключ, которого до
// мутации не было, удаляется. Ключ, который после патча поменял кто-то еще,
// тоже получает состояние из before (пустой Bucket, если ключа не было),
// но с пометкой Stale: его перезагружает координатор. Удаленные за это
// время сущности в восстановленный Bucket не попадают.
func restoreSlice[V Entity[V]](sl *Slice[V], before, after map[string]*Bucket[V], err error, gone func(string) bool) *Slice[V] {
	next := sl
	for key, b := range before {
		if gone(key) {
			// ключ ответов удаленного родителя
			continue
		}
		restored := b
		if expected, tracked := after[key]; tracked && next.Bucket(key) != expected {
			// clone от nil дает пустой Bucket, так что пометка не теряется
			restored = b.clone()
			restored.Stale = true
		}
		if restored != nil {
			restored = withoutGone(restored, b, gone)
		}
		if err != nil && restored != nil {
			if restored == b {
				restored = b.clone()
			}
			restored.Err = err
		}
		next = next.Restore(key, restored)
	}
	return next
}

func withoutGone[V Entity[V]](b, orig *Bucket[V], gone func(string) bool) *Bucket[V] {
	keep := make([]V, 0, len(b.Items))
	for _, item := range b.Items {
		if !gone(item.EntityID()) {
			keep = append(keep, item)
		}
	}
	if len(keep) == len(b.Items) {
		return b
	}
	if b == orig {
		b = orig.clone()
	}
	b.Items = keep
	return b
}
