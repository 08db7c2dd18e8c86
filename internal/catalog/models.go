// Package catalog looks up externally catalogued media (tracks, albums,
// videos, movies) through third-party providers.
package catalog

import (
	"context"
	"errors"
)

// ErrUnauthorized means the provider rejected the current credentials.
// The client re-authenticates once and retries the call.
var ErrUnauthorized = errors.New("catalog: unauthorized")

const (
	TypeTrack  = "track"
	TypeAlbum  = "album"
	TypeArtist = "artist"
	TypeVideo  = "video"
	TypeMovie  = "movie"
	TypeTV     = "tv"
)

type Item struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Artist       string `json:"artist,omitempty"`
	Album        string `json:"album,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	PreviewURL   string `json:"previewUrl,omitempty"`
	DurationMs   int    `json:"durationMs,omitempty"`

	Overview    string   `json:"overview,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	BackdropURL string   `json:"backdropUrl,omitempty"`
}

type SearchResponse struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// Provider is a third-party catalog API.
type Provider interface {
	Name() string
	// Authenticate exchanges credentials and runs a smoke-test call.
	Authenticate(ctx context.Context) error
	Search(ctx context.Context, query, typ string, limit int) ([]Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	ListCurated(ctx context.Context, limit int) ([]Item, error)
}
