package redirect

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func location(l string) http.Header {
	return http.Header{"Location": []string{l}}
}

func TestResolve_RedirectCodes(t *testing.T) {
	for _, code := range []int{300, 301, 302, 303, 305, 306, 307} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			d := Resolver{}.Resolve(code, location("test_location"), 0)
			assert.True(t, d.Redirect)
			assert.Equal(t, "test_location", d.Location)
			assert.NoError(t, d.Err)
		})
	}
}

func TestResolve_TerminalStatuses(t *testing.T) {
	for _, code := range []int{200, 204, 304, 308, 399} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			d := Resolver{}.Resolve(code, location("ignored"), 0)
			assert.True(t, d.Terminal())
		})
	}
}

func TestResolve_HopLimit(t *testing.T) {
	r := New(5)

	for hops := 0; hops < 5; hops++ {
		assert.True(t, r.Resolve(302, location("/x"), hops).Redirect, "hop %d", hops)
	}

	d := r.Resolve(302, location("/x"), 5)
	assert.False(t, d.Redirect)
	require.ErrorIs(t, d.Err, ErrMaxRedirects)
	assert.Contains(t, d.Err.Error(), "max")

	assert.True(t, r.Resolve(200, nil, 5).Terminal(), "a terminal response at the limit is fine")
}

func TestResolve_ConfigurableLimit(t *testing.T) {
	r := New(1)

	assert.True(t, r.Resolve(301, location("/x"), 0).Redirect)
	assert.ErrorIs(t, r.Resolve(301, location("/x"), 1).Err, ErrMaxRedirects)
}

func TestResolve_MissingLocation(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "no header", header: http.Header{}},
		{name: "blank", header: location("   ")},
		{name: "unparsable", header: location("http://[::1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Resolver{}.Resolve(302, tt.header, 0)
			assert.False(t, d.Redirect)
			assert.ErrorIs(t, d.Err, ErrMissingLocation)
		})
	}
}

func TestJoin(t *testing.T) {
	got, err := Join("http://example.com/a/b.png", "test_location")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a/test_location", got)

	got, err = Join("http://example.com/a", "https://cdn.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/x", got)
}
