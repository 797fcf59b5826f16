package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request, named after the chi route
// pattern once routing has run, e.g. "POST /webhooks/{provider}". otelhttp
// renames the span itself when chi records r.Pattern, so the formatter has to
// agree with the rename done here.
func Tracing(opts ...otelhttp.Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		renamed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			trace.SpanFromContext(r.Context()).SetName(spanName(r))
		})
		all := append([]otelhttp.Option{
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return spanName(r)
			}),
		}, opts...)
		return otelhttp.NewHandler(renamed, "http.server", all...)
	}
}

func spanName(r *http.Request) string {
	if route := routePattern(r); route != unmatchedRoute {
		return r.Method + " " + route
	}
	return r.Method + " " + r.URL.Path
}
