// Package metadata fetches and decodes the JSON descriptors token URIs point at.
package metadata

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultGateway   = "https://ipfs.io/ipfs/"
	DefaultTimeout   = 10 * time.Second
	DefaultCacheSize = 512

	// MaxDocumentSize caps a metadata document.
	MaxDocumentSize = 1 << 20
)

var (
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrTooLarge          = errors.New("metadata document too large")
)

// Options configures a Resolver. Zero values take the defaults above.
type Options struct {
	Gateway    string
	Timeout    time.Duration
	CacheSize  int
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Resolver turns token URIs into Metadata. Successful lookups are cached by
// URI; failures are not, so a later pass retries them.
type Resolver struct {
	gateway    string
	timeout    time.Duration
	httpClient *http.Client
	cache      *lru.Cache[string, *market.Metadata]
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

var _ market.MetadataResolver = (*Resolver)(nil)

// NewResolver creates a Resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Gateway == "" {
		opts.Gateway = DefaultGateway
	}
	if _, err := url.ParseRequestURI(opts.Gateway); err != nil {
		return nil, fmt.Errorf("invalid metadata gateway %q: %w", opts.Gateway, err)
	}
	if !strings.HasSuffix(opts.Gateway, "/") {
		opts.Gateway += "/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cache, err := lru.New[string, *market.Metadata](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &Resolver{
		gateway:    opts.Gateway,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
		cache:      cache,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "metadata"),
	}, nil
}

// Fetch returns the metadata at uri. Errors are always *market.FetchError.
func (r *Resolver) Fetch(ctx context.Context, uri string) (*market.Metadata, error) {
	if md, ok := r.cache.Get(uri); ok {
		r.record("cached")
		return clone(md), nil
	}

	md, err := r.fetch(ctx, uri)
	if err != nil {
		r.record("error")
		r.logger.DebugContext(ctx, "metadata fetch failed", "uri", uri, "error", err)
		return nil, &market.FetchError{URI: uri, Err: err}
	}

	r.cache.Add(uri, md)
	r.record("success")
	return clone(md), nil
}

func (r *Resolver) record(status string) {
	if r.metrics != nil {
		r.metrics.RecordMetadataFetch(status)
	}
}

func (r *Resolver) fetch(ctx context.Context, uri string) (*market.Metadata, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("empty uri")
	}
	if strings.HasPrefix(uri, "data:") {
		body, err := decodeDataURI(uri)
		if err != nil {
			return nil, err
		}
		return decode(body)
	}

	target, err := r.ResolveURL(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > MaxDocumentSize {
		return nil, ErrTooLarge
	}
	return decode(body)
}

// ResolveURL maps a token URI to the HTTP location it is fetched from.
// ipfs:// URIs and bare content identifiers go through the gateway.
func (r *Resolver) ResolveURL(uri string) (string, error) {
	switch {
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		return r.gateway + path, nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return uri, nil
	case !strings.Contains(uri, ":") && market.ValidateCID(uri) == nil:
		return r.gateway + uri, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
}

// decodeDataURI supports the JSON data URIs on-chain metadata uses:
// data:application/json;base64,<b64> and data:application/json,<escaped>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data uri")
	}
	if strings.HasSuffix(header, ";base64") {
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data uri: %w", err)
		}
		return body, nil
	}
	body, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data uri: %w", err)
	}
	return []byte(body), nil
}

func decode(body []byte) (*market.Metadata, error) {
	if len(body) > MaxDocumentSize {
		return nil, ErrTooLarge
	}
	var md market.Metadata
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&md); err != nil {
		return nil, fmt.Errorf("invalid metadata json: %w", err)
	}
	return &md, nil
}

func clone(md *market.Metadata) *market.Metadata {
	out := *md
	out.Attributes = append([]market.Attribute(nil), md.Attributes...)
	return &out
}
