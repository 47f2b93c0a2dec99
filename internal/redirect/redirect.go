// Package redirect decides whether a response should be followed to a new location.
package redirect

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultMaxHops lets five redirects succeed and rejects the sixth.
const DefaultMaxHops = 5

var (
	// ErrMaxRedirects is reported when another hop would exceed the limit.
	ErrMaxRedirects = errors.New("max redirects exceeded")
	// ErrMissingLocation is reported for a redirect without a usable Location header.
	ErrMissingLocation = errors.New("redirect without location")
)

// codes are the statuses followed as redirects. Other 3xx statuses are terminal.
var codes = map[int]bool{
	http.StatusMultipleChoices:   true, // 300
	http.StatusMovedPermanently:  true, // 301
	http.StatusFound:             true, // 302
	http.StatusSeeOther:          true, // 303
	http.StatusUseProxy:          true, // 305
	306:                          true, // unused, still followed
	http.StatusTemporaryRedirect: true, // 307
}

// Decision is the outcome of Resolve.
type Decision struct {
	Redirect bool
	Location string
	Err      error
}

// Terminal reports whether the response ends the transport phase successfully.
func (d Decision) Terminal() bool {
	return !d.Redirect && d.Err == nil
}

// Resolver decides on redirects. The zero value uses DefaultMaxHops.
type Resolver struct {
	// MaxHops counts followed redirects, not requests: a chain of MaxHops
	// redirects ending in a final response costs MaxHops+1 requests.
	MaxHops int
}

// New returns a Resolver allowing maxHops redirects. Non-positive values use DefaultMaxHops.
func New(maxHops int) Resolver {
	return Resolver{MaxHops: maxHops}
}

func (r Resolver) maxHops() int {
	if r.MaxHops <= 0 {
		return DefaultMaxHops
	}

	return r.MaxHops
}

// IsRedirect reports whether status is followed as a redirect.
func IsRedirect(status int) bool {
	return codes[status]
}

// Resolve inspects a response status and headers given the hops already taken.
func (r Resolver) Resolve(status int, header http.Header, hops int) Decision {
	if !IsRedirect(status) {
		return Decision{}
	}

	if hops >= r.maxHops() {
		return Decision{Err: fmt.Errorf("%w: limit is %d", ErrMaxRedirects, r.maxHops())}
	}

	location := strings.TrimSpace(header.Get("Location"))
	if location == "" {
		return Decision{Err: fmt.Errorf("%w: status %d", ErrMissingLocation, status)}
	}

	if _, err := url.Parse(location); err != nil {
		return Decision{Err: fmt.Errorf("%w: %w", ErrMissingLocation, err)}
	}

	return Decision{Redirect: true, Location: location}
}

// Join resolves a Location value against the URL that produced it.
func Join(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingLocation, err)
	}

	l, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingLocation, err)
	}

	return b.ResolveReference(l).String(), nil
}
