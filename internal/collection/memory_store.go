package collection

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. Each collection has its own
// mutex, so item mutations on different collections never block each other.
// Lock order is always s.mu before entry.mu.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memEntry
	shareCodes  map[string]string // code -> collection id

	now func() time.Time
}

type memEntry struct {
	mu            sync.Mutex
	c             Collection
	items         []Item // index == position
	collaborators map[string]Collaborator
	deleted       bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memEntry),
		shareCodes:  make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// lock returns the entry for id with its mutex held.
func (s *MemoryStore) lock(id string) (*memEntry, error) {
	s.mu.RLock()
	e, ok := s.collections[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errCollectionNotFound
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, errCollectionNotFound
	}
	return e, nil
}

func (e *memEntry) renumber() {
	for i := range e.items {
		e.items[i].Position = i
	}
}

func (e *memEntry) indexOf(ref string) int {
	for i, it := range e.items {
		if it.ExternalRef == ref {
			return i
		}
	}
	return -1
}

func (e *memEntry) snapshot() Collection {
	c := e.c
	if c.ShareCode != nil {
		code := *c.ShareCode
		c.ShareCode = &code
	}
	return c
}

func (s *MemoryStore) CreateCollection(ctx context.Context, c *Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[c.ID]; ok {
		return errDuplicateCollection
	}
	s.collections[c.ID] = &memEntry{
		c:             *c,
		collaborators: make(map[string]Collaborator),
	}
	return nil
}

func (s *MemoryStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	e, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	c := e.snapshot()
	return &c, nil
}

func (s *MemoryStore) ListVisible(ctx context.Context, userID string, limit int) ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Collection{}
	for _, e := range s.collections {
		e.mu.Lock()
		visible := e.c.IsPublic
		if userID != "" && !visible {
			_, collab := e.collaborators[userID]
			visible = e.c.OwnerID == userID || collab
		}
		if visible && !e.deleted {
			out = append(out, e.snapshot())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateCollection(ctx context.Context, c *Collection) error {
	e, err := s.lock(c.ID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.c.Name = c.Name
	e.c.Description = c.Description
	e.c.IsPublic = c.IsPublic
	e.c.UpdatedAt = s.now()
	c.UpdatedAt = e.c.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteCollection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.collections[id]
	if !ok {
		return errCollectionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.ShareCode != nil {
		delete(s.shareCodes, *e.c.ShareCode)
	}
	e.deleted = true
	e.items = nil
	e.collaborators = nil
	delete(s.collections, id)
	return nil
}

func (s *MemoryStore) SetCover(ctx context.Context, id, url string) (*Collection, error) {
	e, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	e.c.CoverURL = url
	e.c.UpdatedAt = s.now()
	c := e.snapshot()
	return &c, nil
}

func (s *MemoryStore) ListItems(ctx context.Context, collectionID string) ([]Item, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	out := make([]Item, len(e.items))
	copy(out, e.items)
	return out, nil
}

func (s *MemoryStore) InsertItem(ctx context.Context, it *Item, position, maxItems int) error {
	e, err := s.lock(it.CollectionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.indexOf(it.ExternalRef) >= 0 {
		return errDuplicateItem
	}
	n := len(e.items)
	if maxItems > 0 && n >= maxItems {
		return errCollectionFull
	}
	if position < 0 || position > n {
		position = n
	}

	e.items = append(e.items, Item{})
	copy(e.items[position+1:], e.items[position:])
	e.items[position] = *it
	e.renumber()
	e.c.UpdatedAt = s.now()

	it.Position = position
	return nil
}

func (s *MemoryStore) MoveItem(ctx context.Context, collectionID, ref string, newPosition int) (int, int, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return 0, 0, err
	}
	defer e.mu.Unlock()

	from := e.indexOf(ref)
	if from < 0 {
		return 0, 0, errItemNotFound
	}
	to := clamp(newPosition, 0, len(e.items)-1)
	if to == from {
		return from, to, nil
	}

	moved := e.items[from]
	if to > from {
		copy(e.items[from:to], e.items[from+1:to+1])
	} else {
		copy(e.items[to+1:from+1], e.items[to:from])
	}
	e.items[to] = moved
	e.renumber()
	e.c.UpdatedAt = s.now()
	return from, to, nil
}

func (s *MemoryStore) RemoveItem(ctx context.Context, collectionID, ref string) (*Item, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	idx := e.indexOf(ref)
	if idx < 0 {
		return nil, errItemNotFound
	}
	removed := e.items[idx]
	e.items = append(e.items[:idx], e.items[idx+1:]...)
	e.renumber()
	e.c.UpdatedAt = s.now()
	return &removed, nil
}

func (s *MemoryStore) ReorderItems(ctx context.Context, collectionID string, refs []string) ([]Item, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	current := make([]string, len(e.items))
	byRef := make(map[string]Item, len(e.items))
	for i, it := range e.items {
		current[i] = it.ExternalRef
		byRef[it.ExternalRef] = it
	}
	if err := validatePermutation(current, refs); err != nil {
		return nil, err
	}

	reordered := make([]Item, len(refs))
	for i, ref := range refs {
		reordered[i] = byRef[ref]
	}
	e.items = reordered
	e.renumber()
	e.c.UpdatedAt = s.now()

	out := make([]Item, len(e.items))
	copy(out, e.items)
	return out, nil
}

func (s *MemoryStore) GetCollaborator(ctx context.Context, collectionID, userID string) (*Collaborator, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	c, ok := e.collaborators[userID]
	if !ok {
		return nil, errCollaboratorNotFound
	}
	return &c, nil
}

func (s *MemoryStore) ListCollaborators(ctx context.Context, collectionID string) ([]Collaborator, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	out := make([]Collaborator, 0, len(e.collaborators))
	for _, c := range e.collaborators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpsertCollaborator(ctx context.Context, c *Collaborator, maxCollaborators int) error {
	e, err := s.lock(c.CollectionID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if existing, ok := e.collaborators[c.UserID]; ok {
		existing.CanEdit = c.CanEdit
		e.collaborators[c.UserID] = existing
		*c = existing
	} else {
		if maxCollaborators > 0 && len(e.collaborators) >= maxCollaborators {
			return errTooManyCollabs
		}
		e.collaborators[c.UserID] = *c
	}
	e.c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RemoveCollaborator(ctx context.Context, collectionID, userID string) (bool, error) {
	e, err := s.lock(collectionID)
	if err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	if _, ok := e.collaborators[userID]; !ok {
		return false, nil
	}
	delete(e.collaborators, userID)
	e.c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) SetShareCode(ctx context.Context, collectionID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collectionID]
	if !ok {
		return errCollectionNotFound
	}
	if owner, taken := s.shareCodes[code]; taken && owner != collectionID {
		return errShareCodeTaken
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.ShareCode != nil {
		delete(s.shareCodes, *e.c.ShareCode)
	}
	s.shareCodes[code] = collectionID
	e.c.ShareCode = &code
	e.c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ClearShareCode(ctx context.Context, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collectionID]
	if !ok {
		return errCollectionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c.ShareCode != nil {
		delete(s.shareCodes, *e.c.ShareCode)
		e.c.ShareCode = nil
		e.c.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) FindByShareCode(ctx context.Context, code string) (*Collection, error) {
	s.mu.RLock()
	id, ok := s.shareCodes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, errShareNotFound
	}
	c, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, errShareNotFound
	}
	return c, nil
}
