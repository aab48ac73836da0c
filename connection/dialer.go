package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/brightpath/tutorstream/errors"
)

// Dialer establishes the upstream event stream. The manager redials through
// it on every reconnection attempt; tests inject a fake.
type Dialer interface {
	// Dial opens the stream. lastEventID, when non-empty, asks the server
	// to replay events missed since the given ID.
	Dial(ctx context.Context, lastEventID string) (io.ReadCloser, error)
}

// HTTPDialer dials a server-sent events endpoint over HTTP.
type HTTPDialer struct {
	URL    string
	Client *http.Client
	Header http.Header
}

// Dial issues a streaming GET. The response body stays open for the life of
// the stream; cancelling ctx unblocks reads on it.
func (d *HTTPDialer) Dial(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "HTTPDialer", "Dial", "build stream request")
	}

	for key, values := range d.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "HTTPDialer", "Dial", "open event stream")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, errors.WrapUnauthorized(
			fmt.Errorf("upstream returned status %d", resp.StatusCode),
			"HTTPDialer", "Dial", "authenticate stream request")
	default:
		resp.Body.Close()
		return nil, errors.WrapTransient(
			fmt.Errorf("upstream returned status %d", resp.StatusCode),
			"HTTPDialer", "Dial", "open event stream")
	}
}
