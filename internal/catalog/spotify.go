package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"sonicvision/internal/apperr"
)

const (
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL and BaseURL default to the public Spotify endpoints.
	TokenURL          string
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// SpotifyProvider uses the client-credentials flow, so only catalog
// endpoints are reachable. The token is fixed per Authenticate; when it
// expires the API answers 401 and the Client re-authenticates.
type SpotifyProvider struct {
	creds   clientcredentials.Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	mu  sync.RWMutex
	api *http.Client
}

func NewSpotifyProvider(cfg SpotifyConfig) *SpotifyProvider {
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotifyTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = spotifyBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &SpotifyProvider{
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (p *SpotifyProvider) Name() string { return "spotify" }

func (p *SpotifyProvider) Authenticate(ctx context.Context) error {
	if p.creds.ClientID == "" || p.creds.ClientSecret == "" {
		return errors.New("spotify: client id and secret are required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	tok, err := p.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("spotify token exchange: %w", err)
	}

	api := &http.Client{
		Timeout: p.http.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   p.http.Transport,
		},
	}
	p.mu.Lock()
	p.api = api
	p.mu.Unlock()

	// Smoke test.
	if _, err := p.Search(ctx, "test", TypeTrack, 1); err != nil {
		return fmt.Errorf("spotify smoke test: %w", err)
	}
	return nil
}

type spotifyImage struct {
	URL string `json:"url"`
}

type spotifyObject struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album *struct {
		Name   string         `json:"name"`
		Images []spotifyImage `json:"images"`
	} `json:"album"`
	Images     []spotifyImage `json:"images"`
	DurationMs int            `json:"duration_ms"`
	PreviewURL string         `json:"preview_url"`
}

type spotifyPage struct {
	Items []spotifyObject `json:"items"`
	Total int             `json:"total"`
}

func (o spotifyObject) item() Item {
	it := Item{
		ID:         o.ID,
		Provider:   "spotify",
		Type:       o.Type,
		Title:      o.Name,
		DurationMs: o.DurationMs,
		PreviewURL: o.PreviewURL,
	}
	names := make([]string, 0, len(o.Artists))
	for _, a := range o.Artists {
		names = append(names, a.Name)
	}
	it.Artist = strings.Join(names, ", ")

	images := o.Images
	if o.Album != nil {
		it.Album = o.Album.Name
		if len(images) == 0 {
			images = o.Album.Images
		}
	}
	// Spotify lists the largest image first.
	if len(images) > 0 {
		it.ThumbnailURL = images[0].URL
	}
	return it
}

func (p *SpotifyProvider) Search(ctx context.Context, query, typ string, limit int) ([]Item, error) {
	if typ == "" {
		typ = TypeTrack
	}
	switch typ {
	case TypeTrack, TypeAlbum, TypeArtist:
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", apperr.ErrInvalidArgument, typ)
	}

	val := url.Values{}
	val.Set("q", query)
	val.Set("type", typ)
	val.Set("limit", fmt.Sprint(limit))

	var body map[string]spotifyPage
	if err := p.get(ctx, "/search?"+val.Encode(), &body); err != nil {
		return nil, err
	}
	page, ok := body[typ+"s"]
	if !ok {
		return nil, fmt.Errorf("spotify search: response has no %ss", typ)
	}

	out := make([]Item, 0, len(page.Items))
	for _, o := range page.Items {
		out = append(out, o.item())
	}
	return out, nil
}

func (p *SpotifyProvider) GetByID(ctx context.Context, id string) (*Item, error) {
	var o spotifyObject
	err := p.get(ctx, "/tracks/"+url.PathEscape(id), &o)
	if errors.Is(err, apperr.ErrInvalidArgument) {
		// Spotify answers 400 "invalid id" for malformed ids.
		return nil, fmt.Errorf("%w: catalog item", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	it := o.item()
	return &it, nil
}

// ListCurated returns the current new releases.
func (p *SpotifyProvider) ListCurated(ctx context.Context, limit int) ([]Item, error) {
	var body struct {
		Albums spotifyPage `json:"albums"`
	}
	if err := p.get(ctx, fmt.Sprintf("/browse/new-releases?limit=%d", limit), &body); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(body.Albums.Items))
	for _, o := range body.Albums.Items {
		out = append(out, o.item())
	}
	return out, nil
}

func (p *SpotifyProvider) get(ctx context.Context, endpoint string, result any) error {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()
	if api == nil {
		return ErrUnauthorized
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := api.Do(req)
	if err != nil {
		return fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: catalog item", apperr.ErrNotFound)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: rejected by spotify", apperr.ErrInvalidArgument)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("spotify status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("spotify decode: %w", err)
	}
	return nil
}
