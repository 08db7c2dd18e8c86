package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sonicvision/internal/apperr"
	"sonicvision/internal/auth"
)

var (
	owner    = auth.Principal{UserID: "u1", DisplayName: "Owner"}
	editor   = auth.Principal{UserID: "u2", DisplayName: "Editor"}
	viewer   = auth.Principal{UserID: "u3", DisplayName: "Viewer"}
	stranger = auth.Principal{UserID: "u9", DisplayName: "Stranger"}
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakeMedia struct {
	stored []string
	err    error
}

func (m *fakeMedia) Store(_ context.Context, data []byte, contentType string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.stored = append(m.stored, contentType)
	return "http://media.test/cover.png", nil
}

func newTestService(t *testing.T) (*Service, *recorder, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	rec := &recorder{}
	svc := NewService(store, rec, &fakeMedia{}, zaptest.NewLogger(t), Options{})
	return svc, rec, store
}

// setupShared creates a collection owned by u1 with u2 as editor and u3 as
// read-only collaborator.
func setupShared(t *testing.T, svc *Service, rec *recorder, isPublic bool) *Collection {
	t.Helper()
	ctx := context.Background()
	c, err := svc.CreateCollection(ctx, owner, KindPlaylist, "Road trip", "", isPublic)
	require.NoError(t, err)
	_, err = svc.AddCollaborator(ctx, owner, c.ID, editor.UserID, true)
	require.NoError(t, err)
	_, err = svc.AddCollaborator(ctx, owner, c.ID, viewer.UserID, false)
	require.NoError(t, err)
	rec.reset()
	return c
}

func positions(t *testing.T, store Store, id string) map[string]int {
	t.Helper()
	items, err := store.ListItems(context.Background(), id)
	require.NoError(t, err)
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ExternalRef] = it.Position
	}
	return out
}

func TestService_CreateCollection(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.CreateCollection(ctx, auth.Anonymous, KindPlaylist, "x", "", true)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = svc.CreateCollection(ctx, owner, Kind("mixtape"), "x", "", true)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.CreateCollection(ctx, owner, KindPlaylist, "   ", "", true)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	c, err := svc.CreateCollection(ctx, owner, KindWatchlist, " Films ", "<b>weekend</b> <script>alert(1)</script>", false)
	require.NoError(t, err)
	assert.Equal(t, "Films", c.Name)
	assert.Equal(t, "weekend", c.Description)
	assert.Equal(t, owner.UserID, c.OwnerID)
	assert.Equal(t, "watchlist-"+c.ID, c.Room())
}

func TestService_DescriptionKeepsPlainText(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	c, err := svc.CreateCollection(ctx, owner, KindPlaylist, "Mix", `Rock & Roll, it's "fine" 1 < 2`, true)
	require.NoError(t, err)
	assert.Equal(t, `Rock & Roll, it's "fine" 1 < 2`, c.Description)

	// Length is measured on the text, not on its escaped form.
	amps := strings.Repeat("&", 300)
	c, err = svc.CreateCollection(ctx, owner, KindPlaylist, "Mix", amps, true)
	require.NoError(t, err)
	assert.Equal(t, amps, c.Description)

	desc := "Tom & Jerry <i>classics</i>"
	updated, err := svc.UpdateCollection(ctx, owner, c.ID, Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry classics", updated.Description)

	_, err = svc.CreateCollection(ctx, owner, KindPlaylist, "Mix", strings.Repeat("a", maxDescriptionLen+1), true)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

// Scenario: append twice, remove the first, the second moves to 0.
func TestService_AddRemoveCompacts(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c, err := svc.CreateCollection(ctx, owner, KindPlaylist, "Mix", "", true)
	require.NoError(t, err)

	t1, err := svc.AddItem(ctx, owner, c.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, t1.Position)

	t2, err := svc.AddItem(ctx, owner, c.ID, "t2")
	require.NoError(t, err)
	assert.Equal(t, 1, t2.Position)

	require.NoError(t, svc.RemoveItem(ctx, owner, c.ID, "t1"))
	assert.Equal(t, map[string]int{"t2": 0}, positions(t, store, c.ID))

	assert.Equal(t, []string{EventItemAdded, EventItemAdded, EventItemRemoved}, rec.types())
	for _, ev := range rec.events {
		assert.Equal(t, "playlist-"+c.ID, ev.Room)
		assert.Equal(t, owner.UserID, ev.Actor)
	}
}

// Scenario: a read-only collaborator cannot add items.
func TestService_ReadOnlyCollaboratorForbidden(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)

	_, err := svc.AddItem(ctx, viewer, c.ID, "t1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	it, err := svc.AddItem(ctx, editor, c.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, editor.UserID, it.AddedBy)

	d, err := svc.GetCollection(ctx, viewer, c.ID)
	require.NoError(t, err)
	assert.False(t, d.CanEdit)
	assert.Len(t, d.Items, 1)
	assert.Len(t, d.Collaborators, 2)
}

func TestService_PermissionInvariant(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)
	_, err := svc.AddItem(ctx, owner, c.ID, "t1")
	require.NoError(t, err)
	rec.reset()

	name := "renamed"
	mutations := map[string]func(p auth.Principal) error{
		"update": func(p auth.Principal) error {
			_, err := svc.UpdateCollection(ctx, p, c.ID, Patch{Name: &name})
			return err
		},
		"delete": func(p auth.Principal) error { return svc.DeleteCollection(ctx, p, c.ID) },
		"add": func(p auth.Principal) error {
			_, err := svc.AddItem(ctx, p, c.ID, "t2")
			return err
		},
		"insert": func(p auth.Principal) error {
			_, err := svc.InsertItem(ctx, p, c.ID, "t2", 0)
			return err
		},
		"move": func(p auth.Principal) error {
			_, _, err := svc.MoveItem(ctx, p, c.ID, "t1", 0)
			return err
		},
		"remove": func(p auth.Principal) error { return svc.RemoveItem(ctx, p, c.ID, "t1") },
		"reorder": func(p auth.Principal) error {
			_, err := svc.ReorderItems(ctx, p, c.ID, []string{"t1"})
			return err
		},
		"add collaborator": func(p auth.Principal) error {
			_, err := svc.AddCollaborator(ctx, p, c.ID, "u7", true)
			return err
		},
		"remove collaborator": func(p auth.Principal) error {
			return svc.RemoveCollaborator(ctx, p, c.ID, editor.UserID)
		},
		"share": func(p auth.Principal) error {
			_, err := svc.CreateShareLink(ctx, p, c.ID)
			return err
		},
		"revoke share": func(p auth.Principal) error { return svc.RevokeShareLink(ctx, p, c.ID) },
		"cover": func(p auth.Principal) error {
			_, err := svc.UploadCover(ctx, p, c.ID, pngHeader, "image/png")
			return err
		},
	}

	for name, mutate := range mutations {
		for _, p := range []auth.Principal{stranger, auth.Anonymous} {
			t.Run(name+"/"+p.Name(), func(t *testing.T) {
				assert.ErrorIs(t, mutate(p), apperr.ErrForbidden)
			})
		}
	}
	assert.Empty(t, rec.types())
}

func TestService_OwnerOnlyOperations(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)

	assert.ErrorIs(t, svc.DeleteCollection(ctx, editor, c.ID), apperr.ErrForbidden)

	_, err := svc.AddCollaborator(ctx, editor, c.ID, "u7", true)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.AddCollaborator(ctx, owner, c.ID, owner.UserID, true)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	assert.ErrorIs(t, svc.RemoveCollaborator(ctx, owner, c.ID, owner.UserID), apperr.ErrInvalidArgument)
}

func TestService_Collaborators(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c := setupShared(t, svc, rec, false)

	// Re-adding updates the grant.
	collab, err := svc.AddCollaborator(ctx, owner, c.ID, viewer.UserID, true)
	require.NoError(t, err)
	assert.True(t, collab.CanEdit)
	collabs, err := store.ListCollaborators(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 2)

	require.NoError(t, svc.RemoveCollaborator(ctx, owner, c.ID, editor.UserID))
	// Absent grant is a no-op success.
	require.NoError(t, svc.RemoveCollaborator(ctx, owner, c.ID, "nobody"))

	assert.Equal(t, []string{EventCollaboratorAdded, EventCollaboratorRemoved}, rec.types())

	_, err = svc.GetCollection(ctx, editor, c.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.ListCollaborators(ctx, stranger, c.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestService_CollaboratorLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, nil, nil, zaptest.NewLogger(t), Options{MaxCollaborators: 1, MaxItems: 2})
	c, err := svc.CreateCollection(ctx, owner, KindPlaylist, "Small", "", true)
	require.NoError(t, err)

	_, err = svc.AddCollaborator(ctx, owner, c.ID, editor.UserID, true)
	require.NoError(t, err)
	_, err = svc.AddCollaborator(ctx, owner, c.ID, viewer.UserID, true)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.AddItem(ctx, owner, c.ID, "a")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, owner, c.ID, "b")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, owner, c.ID, "c")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestService_DuplicateItemConflict(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c := setupShared(t, svc, rec, true)

	_, err := svc.AddItem(ctx, owner, c.ID, "t1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, editor, c.ID, "t1")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.Len(t, positions(t, store, c.ID), 1)
	assert.Equal(t, []string{EventItemAdded}, rec.types())
}

// Scenario: a malformed order changes nothing.
func TestService_ReorderAtomicity(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c := setupShared(t, svc, rec, true)
	_, err := svc.AddItem(ctx, owner, c.ID, "t1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, owner, c.ID, "t2")
	require.NoError(t, err)
	rec.reset()

	before, err := store.ListItems(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.ReorderItems(ctx, owner, c.ID, []string{"t2", "t1", "t1"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	after, err := store.ListItems(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, rec.types())

	items, err := svc.ReorderItems(ctx, editor, c.ID, []string{"t2", "t1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t1"}, refsOf(items))
	assert.Equal(t, map[string]int{"t2": 0, "t1": 1}, positions(t, store, c.ID))
	require.Len(t, rec.events, 1)
	assert.Equal(t, reorderedPayload{Order: []string{"t2", "t1"}}, rec.events[0].Payload)
}

func TestService_InsertAndMove(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c := setupShared(t, svc, rec, true)
	for _, ref := range []string{"a", "b", "c"} {
		_, err := svc.AddItem(ctx, owner, c.ID, ref)
		require.NoError(t, err)
	}

	it, err := svc.InsertItem(ctx, editor, c.ID, "x", -5)
	require.NoError(t, err)
	assert.Equal(t, 0, it.Position)

	from, to, err := svc.MoveItem(ctx, editor, c.ID, "x", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.Equal(t, 3, to)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2, "x": 3}, positions(t, store, c.ID))

	_, _, err = svc.MoveItem(ctx, editor, c.ID, "missing", 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// Scenario: share link on public and private collections.
func TestService_ShareLinks(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	svc.newCode = func() (string, error) { return "abc123", nil }

	public := setupShared(t, svc, rec, true)
	link, err := svc.CreateShareLink(ctx, owner, public.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", link.Code)

	d, err := svc.ResolveShareLink(ctx, auth.Anonymous, "abc123")
	require.NoError(t, err)
	assert.Equal(t, public.ID, d.Collection.ID)
	assert.Nil(t, d.Collaborators)

	private := false
	_, err = svc.UpdateCollection(ctx, owner, public.ID, Patch{IsPublic: &private})
	require.NoError(t, err)
	_, err = svc.ResolveShareLink(ctx, auth.Anonymous, "abc123")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	d, err = svc.ResolveShareLink(ctx, viewer, "abc123")
	require.NoError(t, err)
	assert.Equal(t, public.ID, d.Collection.ID)

	_, err = svc.ResolveShareLink(ctx, auth.Anonymous, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_ShareLinkRegenerationInvalidatesOld(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)

	first, err := svc.CreateShareLink(ctx, owner, c.ID)
	require.NoError(t, err)
	second, err := svc.CreateShareLink(ctx, editor, c.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Len(t, second.Code, 16)

	_, err = svc.ResolveShareLink(ctx, auth.Anonymous, first.Code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.ResolveShareLink(ctx, auth.Anonymous, second.Code)
	assert.NoError(t, err)

	require.NoError(t, svc.RevokeShareLink(ctx, owner, c.ID))
	_, err = svc.ResolveShareLink(ctx, auth.Anonymous, second.Code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, []string{EventShareCreated, EventShareCreated, EventShareRevoked}, rec.types())
}

func TestService_ShareCodeCollisionRetries(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	a := setupShared(t, svc, rec, true)
	b := setupShared(t, svc, rec, true)

	svc.newCode = func() (string, error) { return "taken", nil }
	_, err := svc.CreateShareLink(ctx, owner, a.ID)
	require.NoError(t, err)

	calls := 0
	svc.newCode = func() (string, error) {
		calls++
		if calls < 3 {
			return "taken", nil
		}
		return "fresh", nil
	}
	link, err := svc.CreateShareLink(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", link.Code)
	assert.Equal(t, 3, calls)

	svc.newCode = func() (string, error) { return "taken", nil }
	_, err = svc.CreateShareLink(ctx, owner, b.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestService_UploadCover(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)

	_, err := svc.UploadCover(ctx, editor, c.ID, pngHeader, "text/plain")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.UploadCover(ctx, editor, c.ID, []byte("hello, world"), "image/png")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.UploadCover(ctx, editor, c.ID, nil, "image/png")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	updated, err := svc.UploadCover(ctx, editor, c.ID, pngHeader, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://media.test/cover.png", updated.CoverURL)
	assert.Equal(t, []string{EventCoverUpdated}, rec.types())

	svc.media = &fakeMedia{err: errors.New("disk full")}
	_, err = svc.UploadCover(ctx, editor, c.ID, pngHeader, "image/png")
	assert.Error(t, err)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestService_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c := setupShared(t, svc, rec, true)
	_, err := svc.AddItem(ctx, owner, c.ID, "t1")
	require.NoError(t, err)
	link, err := svc.CreateShareLink(ctx, owner, c.ID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCollection(ctx, owner, c.ID))

	_, err = svc.GetCollection(ctx, owner, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = store.ListItems(ctx, c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.ResolveShareLink(ctx, owner, link.Code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_ListVisible(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	pub := setupShared(t, svc, rec, true)
	priv := setupShared(t, svc, rec, false)

	anon, err := svc.ListVisible(ctx, auth.Anonymous)
	require.NoError(t, err)
	require.Len(t, anon, 1)
	assert.Equal(t, pub.ID, anon[0].ID)

	mine, err := svc.ListVisible(ctx, viewer)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	other, err := svc.ListVisible(ctx, stranger)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.NotEqual(t, priv.ID, other[0].ID)
}

func TestService_ShareCodeRedactedForReaders(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	svc.newCode = func() (string, error) { return "abc123", nil }
	c := setupShared(t, svc, rec, true)

	_, err := svc.CreateShareLink(ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.NotContains(t, fmt.Sprint(rec.events[0].Payload), "abc123", "the room includes readers")

	codeFor := func(p auth.Principal) *string {
		t.Helper()
		list, err := svc.ListVisible(ctx, p)
		require.NoError(t, err)
		require.Len(t, list, 1)
		d, err := svc.GetCollection(ctx, p, c.ID)
		require.NoError(t, err)
		assert.Equal(t, list[0].ShareCode, d.Collection.ShareCode)
		return d.Collection.ShareCode
	}
	for _, p := range []auth.Principal{owner, editor} {
		if code := codeFor(p); assert.NotNil(t, code, p.UserID) {
			assert.Equal(t, "abc123", *code)
		}
	}
	for _, p := range []auth.Principal{viewer, stranger, auth.Anonymous} {
		assert.Nil(t, codeFor(p), p.UserID)
	}

	d, err := svc.ResolveShareLink(ctx, auth.Anonymous, "abc123")
	require.NoError(t, err)
	assert.Nil(t, d.Collection.ShareCode)

	rec.reset()
	name := "Renamed"
	_, err = svc.UpdateCollection(ctx, owner, c.ID, Patch{Name: &name})
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Nil(t, rec.events[0].Payload.(Collection).ShareCode)
}

func TestService_EmptyPatch(t *testing.T) {
	ctx := context.Background()
	svc, rec, _ := newTestService(t)
	c := setupShared(t, svc, rec, true)

	_, err := svc.UpdateCollection(ctx, stranger, c.ID, Patch{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = svc.UpdateCollection(ctx, editor, c.ID, Patch{})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Empty(t, rec.types())
}

// Replaying the emitted events in order must rebuild exactly what the store
// holds, however the mutations interleave.
func TestService_EventsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	svc, rec, store := newTestService(t)
	c, err := svc.CreateCollection(ctx, owner, KindPlaylist, "Mix", "", true)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ref := fmt.Sprintf("w%d-%d", w, i)
				if _, err := svc.InsertItem(ctx, owner, c.ID, ref, i%3); err != nil {
					t.Error(err)
					return
				}
				switch i % 3 {
				case 1:
					_, _, err = svc.MoveItem(ctx, owner, c.ID, ref, 0)
				case 2:
					err = svc.RemoveItem(ctx, owner, c.ID, ref)
				}
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	var replay []string
	rec.mu.Lock()
	for _, ev := range rec.events {
		switch ev.Type {
		case EventItemAdded:
			it := ev.Payload.(*Item)
			replay = append(replay[:it.Position], append([]string{it.ExternalRef}, replay[it.Position:]...)...)
		case EventItemMoved:
			mv := ev.Payload.(itemMovedPayload)
			require.Equal(t, mv.ExternalRef, replay[mv.From])
			replay = append(replay[:mv.From], replay[mv.From+1:]...)
			replay = append(replay[:mv.To], append([]string{mv.ExternalRef}, replay[mv.To:]...)...)
		case EventItemRemoved:
			it := ev.Payload.(*Item)
			require.Equal(t, it.ExternalRef, replay[it.Position])
			replay = append(replay[:it.Position], replay[it.Position+1:]...)
		}
	}
	rec.mu.Unlock()

	items, err := store.ListItems(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, refsOf(items), replay)
	assert.Zero(t, svc.locks.len())
}
