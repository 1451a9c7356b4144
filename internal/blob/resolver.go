package blob

import (
	"context"
	"net/url"
	"strings"

	"github.com/hyperjump/kagami/internal/apperr"
)

// Resolver turns a source string into bytes and into the reference stored on the parent
// entity. Every fetch failure is a KindSourceUnavailable error.
type Resolver struct {
	store      KeyStore
	http       *HTTPFetcher
	publicBase string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithPublicBaseURL makes PublicURL build key references as base + "/" + key instead of
// asking the KeyStore.
func WithPublicBaseURL(base string) ResolverOption {
	return func(r *Resolver) { r.publicBase = strings.TrimRight(base, "/") }
}

// NewResolver creates a resolver over a key store and an HTTP fetcher.
func NewResolver(store KeyStore, fetcher *HTTPFetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, http: fetcher}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsURL reports whether source is an absolute http or https URL.
func IsURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch returns the bytes behind source.
func (r *Resolver) Fetch(ctx context.Context, source string) ([]byte, error) {
	const op = "blob.fetch"
	var (
		data []byte
		err  error
	)
	if IsURL(source) {
		data, err = r.http.Fetch(ctx, source)
	} else {
		data, err = r.store.Get(ctx, source)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSourceUnavailable, op, err)
	}
	if len(data) == 0 {
		return nil, apperr.New(apperr.KindSourceUnavailable, op, "source %q is empty", source)
	}
	return data, nil
}

// PublicURL returns the reference for source: URLs pass through unchanged and keys map to
// their canonical object URL.
func (r *Resolver) PublicURL(source string) string {
	if IsURL(source) {
		return source
	}
	key := NormalizeKey(source)
	if r.publicBase != "" {
		return r.publicBase + "/" + key
	}
	return r.store.URL(key)
}
