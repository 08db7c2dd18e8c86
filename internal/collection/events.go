package collection

import (
	"context"
	"time"
)

const (
	EventItemAdded           = "item.added"
	EventItemRemoved         = "item.removed"
	EventItemMoved           = "item.moved"
	EventItemsReordered      = "items.reordered"
	EventCollaboratorAdded   = "collaborator.added"
	EventCollaboratorRemoved = "collaborator.removed"
	EventCollectionUpdated   = "collection.updated"
	EventCollectionDeleted   = "collection.deleted"
	EventShareCreated        = "share.created"
	EventShareRevoked        = "share.revoked"
	EventCoverUpdated        = "cover.updated"
)

// Event describes one successful mutation. Room is the realtime room of the
// collection it happened in.
type Event struct {
	Type         string `json:"type"`
	CollectionID string `json:"collectionId"`
	Room         string `json:"room"`
	Actor        string `json:"actor"`
	Payload      any    `json:"payload,omitempty"`
}

// Notifier receives events after the store has committed the change, in
// commit order for each collection.
// Implementations must not fail the mutation; delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type itemMovedPayload struct {
	ExternalRef string `json:"externalRef"`
	From        int    `json:"from"`
	To          int    `json:"to"`
}

type reorderedPayload struct {
	Order []string `json:"order"`
}

type shareCreatedPayload struct {
	CreatedAt time.Time `json:"createdAt"`
}

type collaboratorRemovedPayload struct {
	UserID string `json:"userId"`
}
