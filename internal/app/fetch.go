package app

import (
	"errors"
	"net/http"
	"time"
)

const userAgent = "slidecast/" + Version

// retryTransport retries replayable requests that failed before any response
// arrived. HTTP error statuses are returned as they are.
type retryTransport struct {
	base     http.RoundTripper
	retryMax int
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	max := t.retryMax
	if req.Method != http.MethodGet || req.Body != nil {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", userAgent)
		}
		resp, err := t.base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// newFetchClient returns the client used to download slide images. The
// overall deadline is applied per request by the fetcher.
func newFetchClient(headerTimeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = headerTimeout
	base.MaxIdleConnsPerHost = 8
	return &http.Client{Transport: &retryTransport{base: base, retryMax: 1}}
}
