package testutil

import (
	"net/http"
	"time"

	"fiscaldoc/pkg/requestcontext"
)

// AtTime pins the request clock the way the request-time middleware would.
func AtTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithRequestID attaches a correlation id to the request context.
func WithRequestID(req *http.Request, id string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), id))
}
