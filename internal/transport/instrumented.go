package transport

import (
	"context"

	"github.com/italolelis/fileloader/internal/telemetry"
)

// InstrumentedTransport wraps a Transport with telemetry.
type InstrumentedTransport struct {
	next       Transport
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(next Transport, tel *telemetry.Telemetry, clientType string) *InstrumentedTransport {
	return &InstrumentedTransport{
		next:       next,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Issue issues the request with telemetry.
func (t *InstrumentedTransport) Issue(ctx context.Context, req *Request) (*Response, error) {
	var result *Response

	err := t.telemetry.InstrumentClientOperation(ctx, t.clientType, "issue", func(ctx context.Context) error {
		var err error

		result, err = t.next.Issue(ctx, req)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
