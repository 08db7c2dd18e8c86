package collection

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonicvision/internal/apperr"
)

func seedCollection(t *testing.T, s *MemoryStore, id string, refs ...string) {
	t.Helper()
	require.NoError(t, s.CreateCollection(context.Background(), &Collection{
		ID: id, Kind: KindPlaylist, Name: "seed", OwnerID: "owner", IsPublic: true,
	}))
	for _, ref := range refs {
		require.NoError(t, s.InsertItem(context.Background(), &Item{
			ID: "item-" + ref, CollectionID: id, ExternalRef: ref, AddedBy: "owner",
		}, -1, 0))
	}
}

func refsOf(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ExternalRef
	}
	return out
}

func assertDense(t *testing.T, items []Item) {
	t.Helper()
	for i, it := range items {
		assert.Equal(t, i, it.Position, "item %s", it.ExternalRef)
	}
}

func TestMemoryStore_InsertAppendsAndShifts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCollection(t, s, "c1", "a", "b", "c")

	it := &Item{ID: "x", CollectionID: "c1", ExternalRef: "x"}
	require.NoError(t, s.InsertItem(ctx, it, 1, 0))
	assert.Equal(t, 1, it.Position)

	items, err := s.ListItems(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "x", "b", "c"}, refsOf(items))
	assertDense(t, items)

	tail := &Item{ID: "y", CollectionID: "c1", ExternalRef: "y"}
	require.NoError(t, s.InsertItem(ctx, tail, 99, 0))
	assert.Equal(t, 4, tail.Position)
}

func TestMemoryStore_InsertRejectsDuplicateAndFull(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCollection(t, s, "c1", "a", "b")

	err := s.InsertItem(ctx, &Item{ID: "dup", CollectionID: "c1", ExternalRef: "a"}, -1, 0)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	err = s.InsertItem(ctx, &Item{ID: "z", CollectionID: "c1", ExternalRef: "z"}, -1, 2)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	items, _ := s.ListItems(ctx, "c1")
	assert.Len(t, items, 2)
}

func TestMemoryStore_MoveItem(t *testing.T) {
	tests := []struct {
		name  string
		ref   string
		to    int
		want  []string
		wantF int
		wantT int
	}{
		{"down", "a", 2, []string{"b", "c", "a", "d"}, 0, 2},
		{"up", "d", 1, []string{"a", "d", "b", "c"}, 3, 1},
		{"clamped high", "b", 40, []string{"a", "c", "d", "b"}, 1, 3},
		{"clamped low", "c", -3, []string{"c", "a", "b", "d"}, 2, 0},
		{"same", "b", 1, []string{"a", "b", "c", "d"}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStore()
			seedCollection(t, s, "c1", "a", "b", "c", "d")

			from, to, err := s.MoveItem(ctx, "c1", tt.ref, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.wantF, from)
			assert.Equal(t, tt.wantT, to)

			items, _ := s.ListItems(ctx, "c1")
			assert.Equal(t, tt.want, refsOf(items))
			assertDense(t, items)
		})
	}
}

func TestMemoryStore_RemoveCompacts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCollection(t, s, "c1", "a", "b", "c", "d")

	removed, err := s.RemoveItem(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, removed.Position)

	items, _ := s.ListItems(ctx, "c1")
	assert.Equal(t, []string{"a", "c", "d"}, refsOf(items))
	assertDense(t, items)

	_, err = s.RemoveItem(ctx, "c1", "b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryStore_ReorderRejectsNonPermutation(t *testing.T) {
	orders := map[string][]string{
		"duplicate": {"b", "a", "a"},
		"missing":   {"b"},
		"extra":     {"b", "a", "c"},
		"unknown":   {"b", "z"},
		"empty":     {},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewMemoryStore()
			seedCollection(t, s, "c1", "a", "b")
			before, _ := s.ListItems(ctx, "c1")

			_, err := s.ReorderItems(ctx, "c1", order)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

			after, _ := s.ListItems(ctx, "c1")
			assert.Equal(t, before, after)
		})
	}
}

func TestMemoryStore_DensityUnderRandomMutations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCollection(t, s, "c1")
	rng := rand.New(rand.NewSource(42))

	next := 0
	for step := 0; step < 500; step++ {
		items, err := s.ListItems(ctx, "c1")
		require.NoError(t, err)

		switch op := rng.Intn(4); {
		case op == 0 || len(items) == 0:
			ref := fmt.Sprintf("t%d", next)
			next++
			_ = s.InsertItem(ctx, &Item{ID: ref, CollectionID: "c1", ExternalRef: ref}, rng.Intn(len(items)+2)-1, 0)
		case op == 1:
			_, err = s.RemoveItem(ctx, "c1", items[rng.Intn(len(items))].ExternalRef)
			require.NoError(t, err)
		case op == 2:
			_, _, err = s.MoveItem(ctx, "c1", items[rng.Intn(len(items))].ExternalRef, rng.Intn(len(items)+2)-1)
			require.NoError(t, err)
		default:
			order := refsOf(items)
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
			_, err = s.ReorderItems(ctx, "c1", order)
			require.NoError(t, err)
		}

		items, err = s.ListItems(ctx, "c1")
		require.NoError(t, err)
		assertDense(t, items)
	}
}

func TestMemoryStore_ConcurrentRemovesStayDense(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	refs := make([]string, 60)
	for i := range refs {
		refs[i] = fmt.Sprintf("t%02d", i)
	}
	seedCollection(t, s, "c1", refs...)

	var wg sync.WaitGroup
	for i := 0; i < len(refs); i += 2 {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_, err := s.RemoveItem(ctx, "c1", ref)
			assert.NoError(t, err)
		}(refs[i])
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref := fmt.Sprintf("n%02d", i)
			assert.NoError(t, s.InsertItem(ctx, &Item{ID: ref, CollectionID: "c1", ExternalRef: ref}, i, 0))
		}(i)
	}
	wg.Wait()

	items, err := s.ListItems(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, items, 50)
	assertDense(t, items)
}

func TestMemoryStore_ShareCodes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedCollection(t, s, "c1")
	seedCollection(t, s, "c2")

	require.NoError(t, s.SetShareCode(ctx, "c1", "first"))
	require.NoError(t, s.SetShareCode(ctx, "c1", "second"))

	_, err := s.FindByShareCode(ctx, "first")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	c, err := s.FindByShareCode(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	err = s.SetShareCode(ctx, "c2", "second")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	require.NoError(t, s.DeleteCollection(ctx, "c1"))
	_, err = s.FindByShareCode(ctx, "second")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemoryStore_ListVisible(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateCollection(ctx, &Collection{ID: "pub", OwnerID: "u1", IsPublic: true}))
	require.NoError(t, s.CreateCollection(ctx, &Collection{ID: "mine", OwnerID: "u1"}))
	require.NoError(t, s.CreateCollection(ctx, &Collection{ID: "shared", OwnerID: "u3"}))
	require.NoError(t, s.CreateCollection(ctx, &Collection{ID: "hidden", OwnerID: "u3"}))
	require.NoError(t, s.UpsertCollaborator(ctx, &Collaborator{CollectionID: "shared", UserID: "u1"}, 0))

	ids := func(cs []Collection) []string {
		out := []string{}
		for _, c := range cs {
			out = append(out, c.ID)
		}
		return out
	}

	anon, err := s.ListVisible(ctx, "", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pub"}, ids(anon))

	u1, err := s.ListVisible(ctx, "u1", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pub", "mine", "shared"}, ids(u1))
}
