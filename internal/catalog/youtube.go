package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sonicvision/internal/apperr"
)

const (
	youtubeSearchURL = "https://www.googleapis.com/youtube/v3/search"
	// Music category for the most-popular chart.
	youtubeMusicCategory = "10"
)

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

type YouTubeConfig struct {
	APIKey            string
	SearchURL         string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Log               *zap.Logger
}

type YouTubeProvider struct {
	apiKey    string
	searchURL string
	videosURL string
	http      *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger
}

func NewYouTubeProvider(cfg YouTubeConfig) *YouTubeProvider {
	if cfg.SearchURL == "" {
		cfg.SearchURL = youtubeSearchURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	// The videos endpoint sits next to search.
	videosURL := strings.TrimSuffix(cfg.SearchURL, "/search") + "/videos"

	return &YouTubeProvider{
		apiKey:    cfg.APIKey,
		searchURL: cfg.SearchURL,
		videosURL: videosURL,
		http:      cfg.HTTPClient,
		limiter:   rate.NewLimiter(limit, 1),
		log:       cfg.Log,
	}
}

func (p *YouTubeProvider) Name() string { return "youtube" }

// Authenticate checks the API key with a one-result search.
func (p *YouTubeProvider) Authenticate(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.New("youtube: api key is required")
	}
	if _, err := p.Search(ctx, "test", TypeVideo, 1); err != nil {
		return fmt.Errorf("youtube smoke test: %w", err)
	}
	return nil
}

type ytThumbnails struct {
	Default struct {
		URL string `json:"url"`
	} `json:"default"`
	Medium struct {
		URL string `json:"url"`
	} `json:"medium"`
	High struct {
		URL string `json:"url"`
	} `json:"high"`
}

func (t ytThumbnails) best() string {
	if t.High.URL != "" {
		return t.High.URL
	}
	if t.Medium.URL != "" {
		return t.Medium.URL
	}
	return t.Default.URL
}

type ytSnippet struct {
	Title        string       `json:"title"`
	ChannelTitle string       `json:"channelTitle"`
	Thumbnails   ytThumbnails `json:"thumbnails"`
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet ytSnippet `json:"snippet"`
	} `json:"items"`
}

type ytVideosResponse struct {
	Items []struct {
		ID             string    `json:"id"`
		Snippet        ytSnippet `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func (s ytSnippet) item(id string) Item {
	return Item{
		ID:           id,
		Provider:     "youtube",
		Type:         TypeVideo,
		Title:        s.Title,
		Artist:       s.ChannelTitle,
		ThumbnailURL: s.Thumbnails.best(),
	}
}

func (p *YouTubeProvider) Search(ctx context.Context, query, typ string, limit int) ([]Item, error) {
	switch typ {
	case "", TypeVideo, TypeTrack:
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", apperr.ErrInvalidArgument, typ)
	}

	val := url.Values{}
	val.Set("part", "snippet")
	val.Set("type", "video")
	val.Set("maxResults", strconv.Itoa(limit))
	val.Set("q", query)

	var body ytSearchResponse
	if err := p.get(ctx, p.searchURL, val, &body); err != nil {
		return nil, err
	}

	out := make([]Item, 0, len(body.Items))
	ids := make([]string, 0, len(body.Items))
	for _, it := range body.Items {
		out = append(out, it.Snippet.item(it.ID.VideoID))
		ids = append(ids, it.ID.VideoID)
	}

	if len(ids) > 0 {
		durations, err := p.fetchDurations(ctx, ids)
		if err != nil {
			// Results are still useful without durations.
			p.log.Warn("youtube fetch durations", zap.Error(err))
			return out, nil
		}
		for i := range out {
			out[i].DurationMs = durations[out[i].ID]
		}
	}
	return out, nil
}

func (p *YouTubeProvider) fetchDurations(ctx context.Context, ids []string) (map[string]int, error) {
	val := url.Values{}
	val.Set("part", "contentDetails")
	val.Set("id", strings.Join(ids, ","))

	var body ytVideosResponse
	if err := p.get(ctx, p.videosURL, val, &body); err != nil {
		return nil, err
	}
	durations := make(map[string]int, len(body.Items))
	for _, v := range body.Items {
		durations[v.ID] = parseISO8601Duration(v.ContentDetails.Duration)
	}
	return durations, nil
}

func (p *YouTubeProvider) GetByID(ctx context.Context, id string) (*Item, error) {
	val := url.Values{}
	val.Set("part", "snippet,contentDetails")
	val.Set("id", id)

	var body ytVideosResponse
	if err := p.get(ctx, p.videosURL, val, &body); err != nil {
		return nil, err
	}
	if len(body.Items) == 0 {
		return nil, fmt.Errorf("%w: catalog item", apperr.ErrNotFound)
	}
	v := body.Items[0]
	it := v.Snippet.item(v.ID)
	it.DurationMs = parseISO8601Duration(v.ContentDetails.Duration)
	return &it, nil
}

// ListCurated returns the most popular music videos.
func (p *YouTubeProvider) ListCurated(ctx context.Context, limit int) ([]Item, error) {
	val := url.Values{}
	val.Set("part", "snippet,contentDetails")
	val.Set("chart", "mostPopular")
	val.Set("videoCategoryId", youtubeMusicCategory)
	val.Set("maxResults", strconv.Itoa(limit))

	var body ytVideosResponse
	if err := p.get(ctx, p.videosURL, val, &body); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(body.Items))
	for _, v := range body.Items {
		it := v.Snippet.item(v.ID)
		it.DurationMs = parseISO8601Duration(v.ContentDetails.Duration)
		out = append(out, it)
	}
	return out, nil
}

func (p *YouTubeProvider) get(ctx context.Context, base string, val url.Values, result any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	val.Set("key", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+val.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("youtube request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("youtube status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("youtube decode: %w", err)
	}
	return nil
}

// parseISO8601Duration converts PT#H#M#S to milliseconds. Anything else,
// including day components, is 0.
func parseISO8601Duration(duration string) int {
	m := isoDuration.FindStringSubmatch(duration)
	if m == nil {
		return 0
	}
	var total int
	for i, unit := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0
		}
		total += n * unit
	}
	return total * 1000
}
