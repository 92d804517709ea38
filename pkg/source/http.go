package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sternrassler/bulk-ingest/pkg/cache"
	"github.com/rs/zerolog"
)

// HTTPConfig holds the HTTP source configuration.
type HTTPConfig struct {
	// BaseURL is the remote service root, e.g. "https://api.example.com".
	BaseURL string

	// UserAgent identifies this client to the remote service.
	UserAgent string

	// Timeout bounds each individual fetch.
	Timeout time.Duration

	// Cache is an optional read-through record cache. Nil disables caching.
	Cache *cache.Manager

	// CacheTTL is how long fetched records stay cached.
	CacheTTL time.Duration
}

// DefaultHTTPConfig returns a safe default configuration.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:   baseURL,
		UserAgent: "bulk-ingest/1.0",
		Timeout:   15 * time.Second,
		CacheTTL:  5 * time.Minute,
	}
}

// HTTPSource fetches records from a REST endpoint, one GET per id. It is
// the concrete realization of the fetch collaborator: GET
// {base}/records/{id} with a bearer credential, an optional Redis
// read-through cache in front of the wire call.
type HTTPSource struct {
	httpClient *http.Client
	cfg        HTTPConfig
	namespace  string
	logger     zerolog.Logger
}

// NewHTTP creates an HTTP-backed record source.
func NewHTTP(cfg HTTPConfig, logger zerolog.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &HTTPSource{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:       cfg,
		namespace: u.Host,
		logger:    logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *HTTPSource) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// Fetch retrieves the record for id. Implements Source.
//
// Returns (nil, nil) when the remote has no data for the id (404 or an
// empty 204 body); callers treat that as a silent skip, not a failure.
func (s *HTTPSource) Fetch(ctx context.Context, id, credential string) (*Record, error) {
	if cached := s.cacheGet(ctx, id); cached != nil {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/records/%s", s.cfg.BaseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Context cancellation surfaces as a transport error; keep the
		// context error visible so callers can distinguish an abort.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &FetchError{
			ID:      id,
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		s.logger.Debug().
			Str("id", id).
			Int("status", resp.StatusCode).
			Msg("No data for id - skipping")
		return nil, nil
	default:
		s.logger.Warn().
			Str("id", id).
			Int("status", resp.StatusCode).
			Msg("Fetch request error")
		return nil, &FetchError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Class:      classForStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{
			ID:      id,
			Class:   ErrorClassNetwork,
			Message: "read response body",
			Err:     err,
		}
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, &FetchError{
			ID:         id,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassServer,
			Message:    "decode response body",
			Err:        err,
		}
	}

	if rec.ID == "" {
		rec.ID = id
	}
	rec.FetchedAt = time.Now()

	s.cacheSet(ctx, id, &rec)

	return &rec, nil
}

// cacheGet returns the cached record for id, or nil on miss, expiry, or
// any cache error. Cache problems never fail a fetch.
func (s *HTTPSource) cacheGet(ctx context.Context, id string) *Record {
	if s.cfg.Cache == nil {
		return nil
	}

	entry, err := s.cfg.Cache.Get(ctx, cache.Key{Namespace: s.namespace, ID: id})
	if err != nil {
		if err != cache.ErrCacheMiss {
			s.logger.Warn().Err(err).Str("id", id).Msg("Cache get error")
		}
		return nil
	}

	var rec Record
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Corrupt cache entry")
		return nil
	}

	s.logger.Debug().Str("id", id).Msg("Record cache hit")
	return &rec
}

// cacheSet stores rec for id, logging instead of failing on errors.
func (s *HTTPSource) cacheSet(ctx context.Context, id string, rec *Record) {
	if s.cfg.Cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Failed to encode record for cache")
		return
	}

	key := cache.Key{Namespace: s.namespace, ID: id}
	if err := s.cfg.Cache.Set(ctx, key, cache.NewEntry(data, s.cfg.CacheTTL)); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("Failed to cache record")
	}
}
