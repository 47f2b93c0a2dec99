package loader

import (
	"errors"
	"fmt"

	"github.com/italolelis/fileloader/internal/redirect"
)

// Kind classifies why a download was rejected.
type Kind string

const (
	KindOffline                 Kind = "offline"
	KindTransport               Kind = "transport_error"
	KindMaxRedirects            Kind = "max_redirects_exceeded"
	KindRedirectWithoutLocation Kind = "redirect_without_location"
	KindWriteFailure            Kind = "write_failure"
	KindMetadata                Kind = "metadata_failure"
	KindInvalidRequest          Kind = "invalid_request"
)

// Sentinels matched by errors.Is against a *Failure of the corresponding kind.
var (
	ErrOffline                 = errors.New("network offline")
	ErrTransport               = errors.New("transport error")
	ErrMaxRedirects            = redirect.ErrMaxRedirects
	ErrRedirectWithoutLocation = redirect.ErrMissingLocation
	ErrWriteFailure            = errors.New("write failure")
	ErrMetadata                = errors.New("metadata failure")
	ErrInvalidRequest          = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindOffline:                 ErrOffline,
	KindTransport:               ErrTransport,
	KindMaxRedirects:            ErrMaxRedirects,
	KindRedirectWithoutLocation: ErrRedirectWithoutLocation,
	KindWriteFailure:            ErrWriteFailure,
	KindMetadata:                ErrMetadata,
	KindInvalidRequest:          ErrInvalidRequest,
}

// Failure is the rejection value of a download. It carries the kind and the
// detail reported by whichever collaborator failed.
type Failure struct {
	Kind   Kind   // Classification of the failure
	URL    string // The requested URL
	Detail string // Human-readable detail
	Err    error  // Underlying error, if any
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("download %s failed: %s", f.URL, f.Kind)
	}

	return fmt.Sprintf("download %s failed: %s: %s", f.URL, f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is reports whether target is the sentinel of f's kind.
func (f *Failure) Is(target error) bool {
	sentinel, ok := sentinels[f.Kind]

	return ok && target == sentinel
}

func fail(kind Kind, url string, err error) *Failure {
	f := &Failure{Kind: kind, URL: url, Err: err}
	if err != nil {
		f.Detail = err.Error()
	}

	return f
}

// KindOf returns the kind of the Failure in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	return ""
}
