package collection

import (
	"time"
)

type Kind string

const (
	KindPlaylist  Kind = "playlist"
	KindWatchlist Kind = "watchlist"
)

func (k Kind) Valid() bool {
	return k == KindPlaylist || k == KindWatchlist
}

// Collection is an owned, ordered set of catalog references.
// Items and collaborators are modelled separately.
type Collection struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	IsPublic    bool      `json:"isPublic"`
	ShareCode   *string   `json:"shareCode,omitempty"`
	CoverURL    string    `json:"coverUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// redacted is c as shown to principals who may not edit it.
func (c Collection) redacted() Collection {
	c.ShareCode = nil
	return c
}

// Room is the realtime room every member of the collection subscribes to.
func (c *Collection) Room() string {
	return RoomName(c.Kind, c.ID)
}

func RoomName(kind Kind, id string) string {
	return string(kind) + "-" + id
}

// Item belongs to a collection. Positions are dense and 0-based.
type Item struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	ExternalRef  string    `json:"externalRef"`
	Position     int       `json:"position"`
	AddedBy      string    `json:"addedBy"`
	AddedAt      time.Time `json:"addedAt"`
}

// Collaborator grants a non-owner access to a collection.
type Collaborator struct {
	CollectionID string    `json:"collectionId"`
	UserID       string    `json:"userId"`
	CanEdit      bool      `json:"canEdit"`
	AddedAt      time.Time `json:"addedAt"`
}

type ShareLink struct {
	CollectionID string    `json:"collectionId"`
	Code         string    `json:"code"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Patch carries the optional fields of an UpdateCollection call.
type Patch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsPublic    *bool   `json:"isPublic"`
}

// Detail is a collection as seen by one principal.
type Detail struct {
	Collection    Collection     `json:"collection"`
	Items         []Item         `json:"items"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
	CanEdit       bool           `json:"canEdit"`
}

const (
	maxNameLen        = 200
	maxDescriptionLen = 1000
	maxExternalRefLen = 255
)
