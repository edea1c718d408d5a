package trace

import "net/http"

// Transport stamps the trace context of each request onto its headers.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	tc, ok := FromContext(r.Context())
	if !ok {
		return base.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set(TraceIDKey, tc.TraceID)
	r.Header.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		r.Header.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
	return base.RoundTrip(r)
}

// Middleware gives each inbound local API request its own trace.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := New()
		if id := r.Header.Get(TraceIDKey); id != "" {
			tc = NewChild(Context{TraceID: id, SpanID: r.Header.Get(SpanIDKey)})
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
