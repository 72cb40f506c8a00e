// Package votes содержит таблицу переходов голоса и арифметику счетчиков.
package votes

import "github.com/UkralStul/feedsync/internal/domain"

// Delta - изменение счетчиков при смене голоса.
type Delta struct {
	Up    int
	Down  int
	Score int
}

// Transition возвращает итоговый голос и дельту счетчиков для запроса requested
// при текущем голосе current. Повторный запрос того же голоса снимает его.
func Transition(current, requested domain.VoteType) (domain.VoteType, Delta) {
	switch {
	case current == domain.VoteNone && requested == domain.VoteUp:
		return domain.VoteUp, Delta{Up: 1, Score: 1}
	case current == domain.VoteNone && requested == domain.VoteDown:
		return domain.VoteDown, Delta{Down: 1, Score: -1}
	case current == domain.VoteUp && requested == domain.VoteUp:
		return domain.VoteNone, Delta{Up: -1, Score: -1}
	case current == domain.VoteDown && requested == domain.VoteDown:
		return domain.VoteNone, Delta{Down: -1, Score: 1}
	case current == domain.VoteUp && requested == domain.VoteDown:
		return domain.VoteDown, Delta{Up: -1, Down: 1, Score: -2}
	case current == domain.VoteDown && requested == domain.VoteUp:
		return domain.VoteUp, Delta{Up: 1, Down: -1, Score: 2}
	}
	// Снятие несуществующего голоса или неизвестный запрос.
	return current, Delta{}
}

// Counts - счетчики комментария.
type Counts struct {
	Up    int
	Down  int
	Score int
}

// FromComment берет счетчики из комментария.
func FromComment(c *domain.Comment) Counts {
	return Counts{Up: c.Upvotes, Down: c.Downvotes, Score: c.Score}
}

// FromTally строит счетчики из авторитетного агрегата. Score всегда up - down.
func FromTally(up, down int) Counts {
	c := Counts{Up: up, Down: down}
	c, _ = c.clamp()
	c.Score = c.Up - c.Down
	return c
}

// Apply применяет дельту. Второе значение false, если счетчик ушел бы в минус
// и был обрезан до нуля; тогда Score пересчитывается как Up - Down.
func (c Counts) Apply(d Delta) (Counts, bool) {
	next := Counts{Up: c.Up + d.Up, Down: c.Down + d.Down, Score: c.Score + d.Score}
	next, ok := next.clamp()
	if !ok {
		next.Score = next.Up - next.Down
	}
	return next, ok
}

func (c Counts) clamp() (Counts, bool) {
	ok := true
	if c.Up < 0 {
		c.Up = 0
		ok = false
	}
	if c.Down < 0 {
		c.Down = 0
		ok = false
	}
	return c, ok
}

// Consistent проверяет инвариант score == up - down.
func (c Counts) Consistent() bool {
	return c.Score == c.Up-c.Down
}
