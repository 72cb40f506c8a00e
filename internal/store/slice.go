package store

// Entity - сущность, которую можно хранить в срезе.
type Entity[V any] interface {
	EntityID() string
	Equal(V) bool
}

// Status - состояние загрузки ключа среза.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}
	return "idle"
}

// Bucket - упорядоченная коллекция сущностей под одним ключом и ее флаги.
// Bucket неизменяем: любое изменение создает новый Bucket.
type Bucket[V Entity[V]] struct {
	Items  []V
	Status Status
	Err    error
	// Stale - данные могли разойтись с сервером (лента была отключена).
	Stale bool
}

// Len безопасен для nil.
func (b *Bucket[V]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

func (b *Bucket[V]) index(id string) int {
	if b == nil {
		return -1
	}
	for i, v := range b.Items {
		if v.EntityID() == id {
			return i
		}
	}
	return -1
}

func (b *Bucket[V]) clone() *Bucket[V] {
	if b == nil {
		return &Bucket[V]{}
	}
	cp := *b
	return &cp
}

// Slice - отображение ключа (id поста, родителя, пользователя) в Bucket.
// Методы не меняют получателя и возвращают его же, если изменений нет,
// поэтому подписчики могут сравнивать Bucket по указателю.
type Slice[V Entity[V]] struct {
	buckets map[string]*Bucket[V]
}

// Bucket возвращает коллекцию по ключу или nil.
func (s *Slice[V]) Bucket(key string) *Bucket[V] {
	if s == nil {
		return nil
	}
	return s.buckets[key]
}

// Items возвращает элементы ключа. Для отсутствующего ключа - пустая последовательность.
func (s *Slice[V]) Items(key string) []V {
	b := s.Bucket(key)
	if b == nil {
		return []V{}
	}
	return b.Items
}

// Keys возвращает все ключи среза.
func (s *Slice[V]) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	return keys
}

// Has сообщает, есть ли ключ в срезе.
func (s *Slice[V]) Has(key string) bool {
	return s.Bucket(key) != nil
}

// Find ищет сущность по id во всех ключах.
func (s *Slice[V]) Find(id string) (string, V, bool) {
	var zero V
	if s == nil {
		return "", zero, false
	}
	for key, b := range s.buckets {
		if i := b.index(id); i >= 0 {
			return key, b.Items[i], true
		}
	}
	return "", zero, false
}

// Get ищет сущность по id в конкретном ключе.
func (s *Slice[V]) Get(key, id string) (V, bool) {
	var zero V
	b := s.Bucket(key)
	if i := b.index(id); i >= 0 {
		return b.Items[i], true
	}
	return zero, false
}

func (s *Slice[V]) with(key string, b *Bucket[V]) *Slice[V] {
	next := &Slice[V]{buckets: make(map[string]*Bucket[V], s.size()+1)}
	if s != nil {
		for k, v := range s.buckets {
			next.buckets[k] = v
		}
	}
	next.buckets[key] = b
	return next
}

func (s *Slice[V]) without(key string) *Slice[V] {
	if !s.Has(key) {
		return s
	}
	next := &Slice[V]{buckets: make(map[string]*Bucket[V], s.size())}
	for k, v := range s.buckets {
		if k != key {
			next.buckets[k] = v
		}
	}
	return next
}

func (s *Slice[V]) size() int {
	if s == nil {
		return 0
	}
	return len(s.buckets)
}

// Upsert вставляет или заменяет сущность по id. Новые сущности добавляются в конец.
func (s *Slice[V]) Upsert(key string, v V) *Slice[V] {
	b := s.Bucket(key)
	i := b.index(v.EntityID())
	if i >= 0 && b.Items[i].Equal(v) {
		return s
	}
	next := b.clone()
	items := make([]V, len(next.Items), len(next.Items)+1)
	copy(items, next.Items)
	if i >= 0 {
		items[i] = v
	} else {
		items = append(items, v)
	}
	next.Items = items
	return s.with(key, next)
}

// ReplaceAt заменяет сущность oldID на v, сохраняя позицию. Если oldID нет, это Upsert.
func (s *Slice[V]) ReplaceAt(key, oldID string, v V) *Slice[V] {
	b := s.Bucket(key)
	i := b.index(oldID)
	if i < 0 {
		return s.Upsert(key, v)
	}
	next := b.clone()
	items := make([]V, 0, len(next.Items))
	for j, item := range next.Items {
		switch {
		case j == i:
			items = append(items, v)
		case item.EntityID() == v.EntityID():
			// дубликат с тем же id, оставляем одну запись на месте плейсхолдера
		default:
			items = append(items, item)
		}
	}
	next.Items = items
	return s.with(key, next)
}

// Remove удаляет сущность из ключа.
func (s *Slice[V]) Remove(key, id string) *Slice[V] {
	b := s.Bucket(key)
	i := b.index(id)
	if i < 0 {
		return s
	}
	next := b.clone()
	items := make([]V, 0, len(next.Items)-1)
	items = append(items, next.Items[:i]...)
	items = append(items, next.Items[i+1:]...)
	next.Items = items
	return s.with(key, next)
}

// RemoveEverywhere удаляет сущность из всех ключей.
func (s *Slice[V]) RemoveEverywhere(id string) *Slice[V] {
	next := s
	for _, key := range s.Keys() {
		next = next.Remove(key, id)
	}
	return next
}

// Drop удаляет ключ целиком.
func (s *Slice[V]) Drop(key string) *Slice[V] {
	return s.without(key)
}

// Restore возвращает ключу сохраненный Bucket; nil удаляет ключ.
func (s *Slice[V]) Restore(key string, b *Bucket[V]) *Slice[V] {
	if b == nil {
		return s.without(key)
	}
	if s.Bucket(key) == b {
		return s
	}
	return s.with(key, b)
}

// Load заменяет элементы ключа загруженными. Элементы keep, которых нет среди
// загруженных, добавляются в конец.
func (s *Slice[V]) Load(key string, items []V, keep func(V) bool) *Slice[V] {
	loaded := make([]V, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, v := range items {
		if _, dup := seen[v.EntityID()]; dup {
			continue
		}
		seen[v.EntityID()] = struct{}{}
		loaded = append(loaded, v)
	}
	if keep != nil {
		for _, v := range s.Bucket(key).itemsOrNil() {
			if _, ok := seen[v.EntityID()]; !ok && keep(v) {
				loaded = append(loaded, v)
			}
		}
	}
	return s.with(key, &Bucket[V]{Items: loaded, Status: StatusSuccess})
}

func (b *Bucket[V]) itemsOrNil() []V {
	if b == nil {
		return nil
	}
	return b.Items
}

// SetStatus меняет флаги загрузки ключа, не трогая элементы.
func (s *Slice[V]) SetStatus(key string, status Status, err error) *Slice[V] {
	b := s.Bucket(key)
	if b != nil && b.Status == status && b.Err == err {
		return s
	}
	next := b.clone()
	next.Status = status
	next.Err = err
	return s.with(key, next)
}

// SetError ставит флаг ошибки, не меняя статус загрузки.
func (s *Slice[V]) SetError(key string, err error) *Slice[V] {
	b := s.Bucket(key)
	if b != nil && b.Err == err {
		return s
	}
	next := b.clone()
	next.Err = err
	return s.with(key, next)
}

// MarkStale помечает все ключи устаревшими.
func (s *Slice[V]) MarkStale() *Slice[V] {
	if s == nil {
		return s
	}
	var next *Slice[V]
	for key, b := range s.buckets {
		if b.Stale {
			continue
		}
		if next == nil {
			next = &Slice[V]{buckets: make(map[string]*Bucket[V], len(s.buckets))}
			for k, v := range s.buckets {
				next.buckets[k] = v
			}
		}
		cp := b.clone()
		cp.Stale = true
		next.buckets[key] = cp
	}
	if next == nil {
		return s
	}
	return next
}

// Update применяет fn к сущности id в ключе key. Если fn вернул ok=false
// или сущности нет, срез не меняется.
func (s *Slice[V]) Update(key, id string, fn func(V) (V, bool)) *Slice[V] {
	v, found := s.Get(key, id)
	if !found {
		return s
	}
	next, ok := fn(v)
	if !ok {
		return s
	}
	return s.Upsert(key, next)
}

// StaleKeys возвращает ключи, помеченные устаревшими.
func (s *Slice[V]) StaleKeys() []string {
	if s == nil {
		return nil
	}
	var keys []string
	for k, b := range s.buckets {
		if b.Stale {
			keys = append(keys, k)
		}
	}
	return keys
}
