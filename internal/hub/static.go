package hub

import (
	"net/http"
	"strings"
)

// staticPrefix returns the URL path under which the bundled client
// assets are served, defaulting to "/" but honoring cfg.PathPrefix for
// reverse-proxy deployments that mount the relay under a sub-path
// (spec.md §6 "path_prefix", e.g. a hub reachable at
// https://host/CNM/).
func (h *Hub) staticPrefix() string {
	prefix := h.cfg.PathPrefix
	if prefix == "" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// staticHandler answers every path under the prefix with a one-line
// plain-text landing message pointing operators at relay-term; no
// client bundle is embedded or served.
func (h *Hub) staticHandler() http.Handler {
	prefix := h.staticPrefix()
	return http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("relay hub is running; connect with the relay-term client\n"))
	}))
}
