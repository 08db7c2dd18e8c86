package collection

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"sonicvision/internal/apperr"
	"sonicvision/internal/auth"
)

const (
	DefaultMaxItems         = 5000
	DefaultMaxCollaborators = 50
	DefaultMaxCoverBytes    = 5 << 20

	listLimit        = 200
	shareCodeBytes   = 12
	shareCodeRetries = 5
)

var allowedCoverTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// MediaStore persists cover images and returns the URL they are served from.
type MediaStore interface {
	Store(ctx context.Context, data []byte, contentType string) (string, error)
}

type Options struct {
	MaxItems         int
	MaxCollaborators int
	MaxCoverBytes    int
}

// Service is the permissioned API over a Store. Each successful mutation
// emits exactly one Event through the Notifier, while the collection is
// still locked against other mutations in this process.
type Service struct {
	store    Store
	notifier Notifier
	locks    collectionLocks
	media    MediaStore
	log      *zap.Logger
	opts     Options
	policy   *bluemonday.Policy

	newID   func() string
	newCode func() (string, error)
	now     func() time.Time
}

func NewService(store Store, notifier Notifier, media MediaStore, log *zap.Logger, opts Options) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.MaxCollaborators <= 0 {
		opts.MaxCollaborators = DefaultMaxCollaborators
	}
	if opts.MaxCoverBytes <= 0 {
		opts.MaxCoverBytes = DefaultMaxCoverBytes
	}
	return &Service{
		store:    store,
		notifier: notifier,
		media:    media,
		log:      log,
		opts:     opts,
		policy:   bluemonday.StrictPolicy(),
		newID:    uuid.NewString,
		newCode:  randomShareCode,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func randomShareCode() (string, error) {
	b := make([]byte, shareCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CanEdit reports whether p may mutate c. grant is p's collaborator row, if any.
func CanEdit(p auth.Principal, c *Collection, grant *Collaborator) bool {
	if p.IsAnonymous() {
		return false
	}
	if c.OwnerID == p.UserID {
		return true
	}
	return grant != nil && grant.UserID == p.UserID && grant.CanEdit
}

type access struct {
	c       *Collection
	grant   *Collaborator
	owner   bool
	canEdit bool
	canRead bool
}

func (s *Service) access(ctx context.Context, p auth.Principal, c *Collection) (*access, error) {
	a := &access{c: c}
	if !p.IsAnonymous() {
		a.owner = c.OwnerID == p.UserID
		if !a.owner {
			grant, err := s.store.GetCollaborator(ctx, c.ID, p.UserID)
			switch {
			case err == nil:
				a.grant = grant
			case errors.Is(err, apperr.ErrNotFound):
			default:
				return nil, err
			}
		}
	}
	a.canEdit = CanEdit(p, c, a.grant)
	a.canRead = c.IsPublic || a.owner || a.grant != nil
	return a, nil
}

func (s *Service) load(ctx context.Context, p auth.Principal, id string) (*access, error) {
	c, err := s.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.access(ctx, p, c)
}

func (s *Service) loadEditable(ctx context.Context, p auth.Principal, id string) (*access, error) {
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !a.canEdit {
		return nil, fmt.Errorf("%w: edit rights required", apperr.ErrForbidden)
	}
	return a, nil
}

func (s *Service) loadOwned(ctx context.Context, p auth.Principal, id string) (*access, error) {
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !a.owner {
		return nil, fmt.Errorf("%w: only the owner can do this", apperr.ErrForbidden)
	}
	return a, nil
}

func (s *Service) emit(ctx context.Context, p auth.Principal, c *Collection, typ string, payload any) {
	s.notifier.Notify(ctx, Event{
		Type:         typ,
		CollectionID: c.ID,
		Room:         c.Room(),
		Actor:        p.UserID,
		Payload:      payload,
	})
}

func (s *Service) cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", apperr.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", fmt.Errorf("%w: name is longer than %d characters", apperr.ErrInvalidArgument, maxNameLen)
	}
	return name, nil
}

// cleanDescription strips markup and keeps the text as typed. The sanitizer
// escapes entities, which would change and lengthen plain text.
func (s *Service) cleanDescription(desc string) (string, error) {
	desc = strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(desc)))
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return "", fmt.Errorf("%w: description is longer than %d characters", apperr.ErrInvalidArgument, maxDescriptionLen)
	}
	return desc, nil
}

func cleanRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: externalRef is required", apperr.ErrInvalidArgument)
	}
	if len(ref) > maxExternalRefLen {
		return "", fmt.Errorf("%w: externalRef is too long", apperr.ErrInvalidArgument)
	}
	return ref, nil
}

func (s *Service) CreateCollection(ctx context.Context, p auth.Principal, kind Kind, name, description string, isPublic bool) (*Collection, error) {
	if p.IsAnonymous() {
		return nil, fmt.Errorf("%w: sign in to create a collection", apperr.ErrUnauthenticated)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind must be playlist or watchlist", apperr.ErrInvalidArgument)
	}
	name, err := s.cleanName(name)
	if err != nil {
		return nil, err
	}
	description, err = s.cleanDescription(description)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &Collection{
		ID:          s.newID(),
		Kind:        kind,
		Name:        name,
		Description: description,
		OwnerID:     p.UserID,
		IsPublic:    isPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("collection created",
		zap.String("collection_id", c.ID),
		zap.String("kind", string(kind)),
		zap.String("owner_id", p.UserID),
	)
	return c, nil
}

// ListVisible returns the collections p may read. Share codes are only
// included where p may edit.
func (s *Service) ListVisible(ctx context.Context, p auth.Principal) ([]Collection, error) {
	cs, err := s.store.ListVisible(ctx, p.UserID, listLimit)
	if err != nil {
		return nil, err
	}
	for i := range cs {
		if cs[i].ShareCode == nil {
			continue
		}
		a, err := s.access(ctx, p, &cs[i])
		if err != nil {
			return nil, err
		}
		if !a.canEdit {
			cs[i] = cs[i].redacted()
		}
	}
	return cs, nil
}

func (s *Service) detail(ctx context.Context, a *access) (*Detail, error) {
	items, err := s.store.ListItems(ctx, a.c.ID)
	if err != nil {
		return nil, err
	}
	d := &Detail{Collection: *a.c, Items: items, CanEdit: a.canEdit}
	if !a.canEdit {
		d.Collection = d.Collection.redacted()
	}
	if a.owner || a.grant != nil {
		d.Collaborators, err = s.store.ListCollaborators(ctx, a.c.ID)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// GetCollection returns the collection with its items if p may read it.
func (s *Service) GetCollection(ctx context.Context, p auth.Principal, id string) (*Detail, error) {
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !a.canRead {
		return nil, fmt.Errorf("%w: collection is private", apperr.ErrForbidden)
	}
	return s.detail(ctx, a)
}

// CheckRead loads the collection and fails unless p may read it.
func (s *Service) CheckRead(ctx context.Context, p auth.Principal, id string) (*Collection, error) {
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !a.canRead {
		return nil, fmt.Errorf("%w: collection is private", apperr.ErrForbidden)
	}
	return a.c, nil
}

func (s *Service) UpdateCollection(ctx context.Context, p auth.Principal, id string, patch Patch) (*Collection, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if patch.Name == nil && patch.Description == nil && patch.IsPublic == nil {
		return nil, fmt.Errorf("%w: nothing to update", apperr.ErrInvalidArgument)
	}
	c := *a.c
	if patch.Name != nil {
		if c.Name, err = s.cleanName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Description != nil {
		if c.Description, err = s.cleanDescription(*patch.Description); err != nil {
			return nil, err
		}
	}
	if patch.IsPublic != nil {
		c.IsPublic = *patch.IsPublic
	}
	if err := s.store.UpdateCollection(ctx, &c); err != nil {
		return nil, err
	}
	s.emit(ctx, p, &c, EventCollectionUpdated, c.redacted())
	return &c, nil
}

func (s *Service) DeleteCollection(ctx context.Context, p auth.Principal, id string) error {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return err
	}
	if !a.owner {
		return fmt.Errorf("%w: only the owner can delete a collection", apperr.ErrForbidden)
	}
	if err := s.store.DeleteCollection(ctx, id); err != nil {
		return err
	}
	s.log.Info("collection deleted", zap.String("collection_id", id), zap.String("user_id", p.UserID))
	s.emit(ctx, p, a.c, EventCollectionDeleted, nil)
	return nil
}

// AddItem appends ref after the last item.
func (s *Service) AddItem(ctx context.Context, p auth.Principal, id, ref string) (*Item, error) {
	return s.insert(ctx, p, id, ref, -1)
}

// InsertItem places ref at position, clamped to [0, n]. Later items shift up.
func (s *Service) InsertItem(ctx context.Context, p auth.Principal, id, ref string, position int) (*Item, error) {
	if position < 0 {
		position = 0
	}
	return s.insert(ctx, p, id, ref, position)
}

func (s *Service) insert(ctx context.Context, p auth.Principal, id, ref string, position int) (*Item, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	ref, err = cleanRef(ref)
	if err != nil {
		return nil, err
	}
	it := &Item{
		ID:           s.newID(),
		CollectionID: id,
		ExternalRef:  ref,
		AddedBy:      p.UserID,
		AddedAt:      s.now(),
	}
	if err := s.store.InsertItem(ctx, it, position, s.opts.MaxItems); err != nil {
		return nil, err
	}
	s.emit(ctx, p, a.c, EventItemAdded, it)
	return it, nil
}

// MoveItem moves ref to newPosition, clamped to the current range.
func (s *Service) MoveItem(ctx context.Context, p auth.Principal, id, ref string, newPosition int) (int, int, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return 0, 0, err
	}
	from, to, err := s.store.MoveItem(ctx, id, ref, newPosition)
	if err != nil {
		return 0, 0, err
	}
	s.emit(ctx, p, a.c, EventItemMoved, itemMovedPayload{ExternalRef: ref, From: from, To: to})
	return from, to, nil
}

func (s *Service) RemoveItem(ctx context.Context, p auth.Principal, id, ref string) error {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return err
	}
	removed, err := s.store.RemoveItem(ctx, id, ref)
	if err != nil {
		return err
	}
	s.emit(ctx, p, a.c, EventItemRemoved, removed)
	return nil
}

// ReorderItems applies refs as the full new order. Anything other than a
// permutation of the current items fails with ErrInvalidArgument and
// changes nothing.
func (s *Service) ReorderItems(ctx context.Context, p auth.Principal, id string, refs []string) ([]Item, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ReorderItems(ctx, id, refs)
	if err != nil {
		return nil, err
	}
	order := make([]string, len(items))
	for i, it := range items {
		order[i] = it.ExternalRef
	}
	s.emit(ctx, p, a.c, EventItemsReordered, reorderedPayload{Order: order})
	return items, nil
}

func (s *Service) ListCollaborators(ctx context.Context, p auth.Principal, id string) ([]Collaborator, error) {
	a, err := s.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !a.owner && a.grant == nil {
		return nil, fmt.Errorf("%w: members only", apperr.ErrForbidden)
	}
	return s.store.ListCollaborators(ctx, id)
}

// AddCollaborator grants userID access. Re-adding updates canEdit.
func (s *Service) AddCollaborator(ctx context.Context, p auth.Principal, id, userID string, canEdit bool) (*Collaborator, error) {
	defer s.locks.lock(id)()

	a, err := s.loadOwned(ctx, p, id)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", apperr.ErrInvalidArgument)
	}
	if userID == a.c.OwnerID {
		return nil, fmt.Errorf("%w: the owner is always a collaborator", apperr.ErrInvalidArgument)
	}
	collab := &Collaborator{
		CollectionID: id,
		UserID:       userID,
		CanEdit:      canEdit,
		AddedAt:      s.now(),
	}
	if err := s.store.UpsertCollaborator(ctx, collab, s.opts.MaxCollaborators); err != nil {
		return nil, err
	}
	s.emit(ctx, p, a.c, EventCollaboratorAdded, collab)
	return collab, nil
}

// RemoveCollaborator revokes userID's grant. Removing an absent grant succeeds
// without emitting an event.
func (s *Service) RemoveCollaborator(ctx context.Context, p auth.Principal, id, userID string) error {
	defer s.locks.lock(id)()

	a, err := s.loadOwned(ctx, p, id)
	if err != nil {
		return err
	}
	if userID == a.c.OwnerID {
		return fmt.Errorf("%w: the owner cannot be removed", apperr.ErrInvalidArgument)
	}
	removed, err := s.store.RemoveCollaborator(ctx, id, userID)
	if err != nil {
		return err
	}
	if removed {
		s.emit(ctx, p, a.c, EventCollaboratorRemoved, collaboratorRemovedPayload{UserID: userID})
	}
	return nil
}

// CreateShareLink issues a new code for the collection, invalidating any
// previous one.
func (s *Service) CreateShareLink(ctx context.Context, p auth.Principal, id string) (*ShareLink, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < shareCodeRetries; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate share code: %w", err)
		}
		err = s.store.SetShareCode(ctx, id, code)
		if errors.Is(err, errShareCodeTaken) {
			s.log.Warn("share code collision", zap.String("collection_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}
		link := &ShareLink{CollectionID: id, Code: code, CreatedAt: s.now()}
		// The room includes readers, so the code itself is not broadcast.
		s.emit(ctx, p, a.c, EventShareCreated, shareCreatedPayload{CreatedAt: link.CreatedAt})
		return link, nil
	}
	return nil, fmt.Errorf("%w: could not allocate a unique share code", apperr.ErrConflict)
}

func (s *Service) RevokeShareLink(ctx context.Context, p auth.Principal, id string) error {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return err
	}
	if a.c.ShareCode == nil {
		return nil
	}
	if err := s.store.ClearShareCode(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, p, a.c, EventShareRevoked, nil)
	return nil
}

// ResolveShareLink returns the collection behind code. Private collections
// are only resolved for their owner and collaborators.
func (s *Service) ResolveShareLink(ctx context.Context, p auth.Principal, code string) (*Detail, error) {
	c, err := s.store.FindByShareCode(ctx, code)
	if err != nil {
		return nil, err
	}
	a, err := s.access(ctx, p, c)
	if err != nil {
		return nil, err
	}
	if !a.canRead {
		return nil, fmt.Errorf("%w: collection is private", apperr.ErrForbidden)
	}
	return s.detail(ctx, a)
}

func (s *Service) UploadCover(ctx context.Context, p auth.Principal, id string, data []byte, contentType string) (*Collection, error) {
	defer s.locks.lock(id)()

	a, err := s.loadEditable(ctx, p, id)
	if err != nil {
		return nil, err
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !allowedCoverTypes[mediaType] {
		return nil, fmt.Errorf("%w: cover must be a png, jpeg, webp or gif image", apperr.ErrInvalidArgument)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cover image is empty", apperr.ErrInvalidArgument)
	}
	if len(data) > s.opts.MaxCoverBytes {
		return nil, fmt.Errorf("%w: cover image exceeds %d bytes", apperr.ErrInvalidArgument, s.opts.MaxCoverBytes)
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		return nil, fmt.Errorf("%w: cover content is not an image", apperr.ErrInvalidArgument)
	}
	if s.media == nil {
		return nil, fmt.Errorf("%w: media storage is not configured", apperr.ErrServiceUnavailable)
	}

	url, err := s.media.Store(ctx, data, mediaType)
	if err != nil {
		return nil, fmt.Errorf("store cover: %w", err)
	}
	c, err := s.store.SetCover(ctx, id, url)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, p, a.c, EventCoverUpdated, map[string]string{"coverUrl": url})
	return c, nil
}
