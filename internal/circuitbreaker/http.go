package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper sends requests through a breaker. Transport errors and 5xx
// responses count as failures; 4xx do not.
type HTTPWrapper struct {
	client  *http.Client
	cb      *Breaker
	service string
}

// NewHTTPWrapper wraps client with a breaker configured from CB_HTTP_*.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cb := New(name, HTTPSettings(), logger)
	Metrics.Register(service, cb)
	return &HTTPWrapper{client: client, cb: cb, service: service}
}

// Do executes req. A 5xx response is still returned to the caller with a nil error.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = hw.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})
	Metrics.Observe(hw.service, hw.cb, err == nil)

	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

// State of the underlying breaker.
func (hw *HTTPWrapper) State() State {
	return hw.cb.State()
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }
