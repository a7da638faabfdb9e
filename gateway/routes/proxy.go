package routes

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewEventStreamProxy forwards requests to the daemon verbatim after
// stripping the mount prefix. The websocket event stream passes through here
// so cursor replay and close semantics stay the daemon's own; ReverseProxy
// carries the Upgrade handshake for us.
func NewEventStreamProxy(target *url.URL, stripPrefix string) http.Handler {
	logger := slog.Default().With("component", "gateway.proxy")
	prefix := strings.TrimSuffix(stripPrefix, "/")
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if prefix != "" {
				trimmed := strings.TrimPrefix(pr.Out.URL.Path, prefix)
				if !strings.HasPrefix(trimmed, "/") {
					trimmed = "/" + trimmed
				}
				pr.Out.URL.Path = trimmed
				pr.Out.URL.RawPath = ""
			}
			pr.SetURL(target)
			otel.GetTextMapPropagator().Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("event stream proxy error", "path", r.URL.Path, "error", err)
			http.Error(w, "upstream error", http.StatusBadGateway)
		},
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
