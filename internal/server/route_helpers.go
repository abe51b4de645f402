package server

import (
	"net/http"
	"strings"
)

// RouteHandler is a function type for HTTP handlers
type RouteHandler func(http.ResponseWriter, *http.Request)

// PathSuffixRouter checks if path ends with a specific suffix and routes to handler
type PathSuffixRouter struct {
	Suffix  string
	Handler RouteHandler
}

// RouteByPathSuffix routes requests whose path is prefix + "{id}" + suffix.
// Returns true if a route was matched and handled. The id segment must be
// non-empty and must not itself contain a slash.
func RouteByPathSuffix(w http.ResponseWriter, r *http.Request, prefix string, routes []PathSuffixRouter) bool {
	path := strings.TrimSuffix(r.URL.Path, "/")
	if len(path) <= len(prefix) || !strings.HasPrefix(path, prefix) {
		return false
	}

	rest := path[len(prefix):]
	for _, route := range routes {
		id, ok := strings.CutSuffix(rest, route.Suffix)
		if !ok || id == "" || strings.Contains(id, "/") {
			continue
		}
		route.Handler(w, r)
		return true
	}
	return false
}
