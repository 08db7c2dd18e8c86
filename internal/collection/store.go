package collection

import (
	"context"
	"fmt"

	"sonicvision/internal/apperr"
)

// Store owns collections, items, collaborators and share codes.
// Item mutations on one collection are atomic with respect to each other,
// and after each successful mutation positions are exactly 0..n-1.
type Store interface {
	CreateCollection(ctx context.Context, c *Collection) error
	GetCollection(ctx context.Context, id string) (*Collection, error)
	// ListVisible returns public collections plus those userID owns or
	// collaborates on, newest first, without duplicates.
	ListVisible(ctx context.Context, userID string, limit int) ([]Collection, error)
	// UpdateCollection persists name, description and visibility and bumps UpdatedAt.
	UpdateCollection(ctx context.Context, c *Collection) error
	DeleteCollection(ctx context.Context, id string) error
	SetCover(ctx context.Context, id, url string) (*Collection, error)

	ListItems(ctx context.Context, collectionID string) ([]Item, error)
	// InsertItem places it at position, shifting later items up. A negative
	// or out-of-range position appends. Position is filled in on return.
	InsertItem(ctx context.Context, it *Item, position, maxItems int) error
	MoveItem(ctx context.Context, collectionID, ref string, newPosition int) (from, to int, err error)
	RemoveItem(ctx context.Context, collectionID, ref string) (*Item, error)
	// ReorderItems applies refs as the new order. refs must be a permutation
	// of the current items; otherwise nothing changes.
	ReorderItems(ctx context.Context, collectionID string, refs []string) ([]Item, error)

	GetCollaborator(ctx context.Context, collectionID, userID string) (*Collaborator, error)
	ListCollaborators(ctx context.Context, collectionID string) ([]Collaborator, error)
	UpsertCollaborator(ctx context.Context, c *Collaborator, maxCollaborators int) error
	RemoveCollaborator(ctx context.Context, collectionID, userID string) (bool, error)

	// SetShareCode replaces the collection's code. It fails with
	// apperr.ErrConflict when another collection already holds code.
	SetShareCode(ctx context.Context, collectionID, code string) error
	ClearShareCode(ctx context.Context, collectionID string) error
	FindByShareCode(ctx context.Context, code string) (*Collection, error)
}

var (
	errCollectionNotFound   = fmt.Errorf("%w: collection not found", apperr.ErrNotFound)
	errItemNotFound         = fmt.Errorf("%w: item not found", apperr.ErrNotFound)
	errCollaboratorNotFound = fmt.Errorf("%w: collaborator not found", apperr.ErrNotFound)
	errShareNotFound        = fmt.Errorf("%w: share code not found", apperr.ErrNotFound)
	errDuplicateCollection  = fmt.Errorf("%w: collection already exists", apperr.ErrConflict)
	errDuplicateItem        = fmt.Errorf("%w: item already in collection", apperr.ErrConflict)
	errShareCodeTaken       = fmt.Errorf("%w: share code in use", apperr.ErrConflict)
	errCollectionFull       = fmt.Errorf("%w: collection is full", apperr.ErrConflict)
	errTooManyCollabs       = fmt.Errorf("%w: too many collaborators", apperr.ErrConflict)
)

// validatePermutation reports whether refs is exactly a reordering of current.
func validatePermutation(current, refs []string) error {
	if len(refs) != len(current) {
		return fmt.Errorf("%w: order must list all %d items, got %d", apperr.ErrInvalidArgument, len(current), len(refs))
	}
	want := make(map[string]bool, len(current))
	for _, ref := range current {
		want[ref] = true
	}
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if !want[ref] {
			return fmt.Errorf("%w: unknown item %q in order", apperr.ErrInvalidArgument, ref)
		}
		if seen[ref] {
			return fmt.Errorf("%w: duplicate item %q in order", apperr.ErrInvalidArgument, ref)
		}
		seen[ref] = true
	}
	return nil
}

func clamp(pos, lo, hi int) int {
	if pos < lo {
		return lo
	}
	if pos > hi {
		return hi
	}
	return pos
}
