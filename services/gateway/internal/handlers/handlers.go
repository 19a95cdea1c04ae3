package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/diagnosis/campus-bookings/pkg/logger"
	"github.com/diagnosis/campus-bookings/services/gateway/internal/proxy"
)

type Handlers struct {
	bookingsProxy *proxy.ServiceProxy
}

func New(bookingsProxy *proxy.ServiceProxy) *Handlers {
	return &Handlers{bookingsProxy: bookingsProxy}
}

// Bookings forwards a /v1 request to the bookings service with the /v1
// prefix removed. Method, query, body and end-to-end headers pass through.
func (h *Handlers) Bookings(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1")
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	h.proxyRequest(w, r, h.bookingsProxy, path)
}

func (h *Handlers) proxyRequest(w http.ResponseWriter, r *http.Request, serviceProxy *proxy.ServiceProxy, path string) {
	defer r.Body.Close()

	headers := make(http.Header)
	for key, values := range r.Header {
		if shouldCopyHeader(key) {
			headers[key] = values
		}
	}

	resp, err := serviceProxy.ProxyRequest(r.Context(), r.Method, path, r.Body, headers)
	if err != nil {
		logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "path", path)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if !shouldCopyHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err)
	}
}

// hop-by-hop headers and ones the gateway sets itself
var skipHeaders = map[string]bool{
	"host":                             true,
	"connection":                       true,
	"keep-alive":                       true,
	"proxy-authenticate":               true,
	"proxy-authorization":              true,
	"te":                               true,
	"trailer":                          true,
	"transfer-encoding":                true,
	"upgrade":                          true,
	"content-length":                   true,
	"x-request-id":                     true,
	"x-gateway-forwarded":              true,
	"access-control-allow-origin":      true,
	"access-control-allow-credentials": true,
}

func shouldCopyHeader(key string) bool {
	return !skipHeaders[strings.ToLower(key)]
}
