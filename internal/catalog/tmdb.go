package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sonicvision/internal/apperr"
)

const (
	tmdbBaseURL  = "https://api.themoviedb.org/3"
	tmdbImageURL = "https://image.tmdb.org/t/p"

	// TV ids are prefixed so GetByID knows which endpoint to ask.
	tmdbTVPrefix = "tv-"
)

type TMDBConfig struct {
	APIKey string
	// BaseURL and ImageBaseURL default to the public TMDB endpoints.
	BaseURL           string
	ImageBaseURL      string
	Language          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Log               *zap.Logger
}

// TMDBProvider serves movie and TV metadata for watchlists. It authenticates
// with a v3 API key sent on every request.
type TMDBProvider struct {
	apiKey   string
	baseURL  string
	imageURL string
	language string
	http     *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

func NewTMDBProvider(cfg TMDBConfig) *TMDBProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = tmdbBaseURL
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = tmdbImageURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &TMDBProvider{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		imageURL: strings.TrimRight(cfg.ImageBaseURL, "/"),
		language: cfg.Language,
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(limit, 1),
		log:      cfg.Log,
	}
}

func (p *TMDBProvider) Name() string { return "tmdb" }

// Authenticate checks the API key with a one-result search.
func (p *TMDBProvider) Authenticate(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.New("tmdb: api key is required")
	}
	if _, err := p.Search(ctx, "test", "", 1); err != nil {
		return fmt.Errorf("tmdb smoke test: %w", err)
	}
	return nil
}

type tmdbGenre struct {
	Name string `json:"name"`
}

type tmdbResult struct {
	ID           int64       `json:"id"`
	MediaType    string      `json:"media_type"`
	Title        string      `json:"title"`
	Name         string      `json:"name"`
	Overview     string      `json:"overview"`
	ReleaseDate  string      `json:"release_date"`
	FirstAirDate string      `json:"first_air_date"`
	PosterPath   string      `json:"poster_path"`
	BackdropPath string      `json:"backdrop_path"`
	Runtime      int         `json:"runtime"`
	EpisodeRun   []int       `json:"episode_run_time"`
	Genres       []tmdbGenre `json:"genres"`
}

type tmdbPage struct {
	Results []tmdbResult `json:"results"`
}

func (p *TMDBProvider) item(r tmdbResult, mediaType string) Item {
	it := Item{
		Provider:    "tmdb",
		Type:        mediaType,
		Title:       r.Title,
		Overview:    r.Overview,
		ReleaseDate: r.ReleaseDate,
	}
	if mediaType == TypeTV {
		it.ID = tmdbTVPrefix + fmt.Sprint(r.ID)
		it.ReleaseDate = r.FirstAirDate
	} else {
		it.ID = fmt.Sprint(r.ID)
	}
	if it.Title == "" {
		it.Title = r.Name
	}
	if r.PosterPath != "" {
		it.ThumbnailURL = p.imageURL + "/w500" + r.PosterPath
	}
	if r.BackdropPath != "" {
		it.BackdropURL = p.imageURL + "/w1280" + r.BackdropPath
	}

	minutes := r.Runtime
	if minutes == 0 && len(r.EpisodeRun) > 0 {
		minutes = r.EpisodeRun[0]
	}
	it.DurationMs = minutes * int(time.Minute/time.Millisecond)

	for _, g := range r.Genres {
		it.Genres = append(it.Genres, g.Name)
	}
	return it
}

// Search queries movies and TV shows together. People are skipped.
func (p *TMDBProvider) Search(ctx context.Context, query, typ string, limit int) ([]Item, error) {
	switch typ {
	case "", TypeMovie, TypeTV:
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", apperr.ErrInvalidArgument, typ)
	}

	val := url.Values{}
	val.Set("query", query)
	val.Set("include_adult", "false")

	var page tmdbPage
	if err := p.get(ctx, "/search/multi", val, &page); err != nil {
		return nil, err
	}

	out := make([]Item, 0, limit)
	for _, r := range page.Results {
		if r.MediaType != TypeMovie && r.MediaType != TypeTV {
			continue
		}
		if typ != "" && r.MediaType != typ {
			continue
		}
		out = append(out, p.item(r, r.MediaType))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetByID fetches movie details, or TV details for ids with the tv- prefix.
func (p *TMDBProvider) GetByID(ctx context.Context, id string) (*Item, error) {
	mediaType, endpoint := TypeMovie, "/movie/"
	if rest, ok := strings.CutPrefix(id, tmdbTVPrefix); ok {
		mediaType, endpoint, id = TypeTV, "/tv/", rest
	}

	var r tmdbResult
	err := p.get(ctx, endpoint+url.PathEscape(id), nil, &r)
	if errors.Is(err, apperr.ErrInvalidArgument) {
		return nil, fmt.Errorf("%w: catalog item", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	it := p.item(r, mediaType)
	return &it, nil
}

// ListCurated returns this week's trending movies.
func (p *TMDBProvider) ListCurated(ctx context.Context, limit int) ([]Item, error) {
	var page tmdbPage
	if err := p.get(ctx, "/trending/movie/week", nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) > limit {
		page.Results = page.Results[:limit]
	}
	out := make([]Item, 0, len(page.Results))
	for _, r := range page.Results {
		out = append(out, p.item(r, TypeMovie))
	}
	return out, nil
}

func (p *TMDBProvider) get(ctx context.Context, endpoint string, val url.Values, result any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	if val == nil {
		val = url.Values{}
	}
	val.Set("api_key", p.apiKey)
	if p.language != "" {
		val.Set("language", p.language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint+"?"+val.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: catalog item", apperr.ErrNotFound)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: rejected by tmdb", apperr.ErrInvalidArgument)
	default:
		p.log.Warn("tmdb unexpected status", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("tmdb status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("tmdb decode: %w", err)
	}
	return nil
}
