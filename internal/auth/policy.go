package auth

import (
	"net/http"
	"strings"
)

// Route binds a request pattern to the role it requires. An empty Method
// matches any method; Prefix matches Path as a path prefix.
type Route struct {
	Method string
	Path   string
	Prefix bool
	Role   Role
}

func (rt Route) matches(method, path string) bool {
	if rt.Method != "" && rt.Method != method {
		return false
	}
	if rt.Prefix {
		return strings.HasPrefix(path, rt.Path)
	}
	return path == rt.Path
}

// Policy resolves the role a request needs. Routes are checked in order and
// the first match wins; unmatched requests are not guarded.
type Policy struct {
	exempt map[string]struct{}
	routes []Route
}

// NewPolicy builds a policy that skips exempt paths and guards routes.
func NewPolicy(exempt []string, routes ...Route) Policy {
	set := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		set[path] = struct{}{}
	}
	return Policy{exempt: set, routes: append([]Route(nil), routes...)}
}

// AlertRoutes is the route table of the alerting API.
func AlertRoutes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/api/v1/readings", Role: RoleOperator},
		{Path: "/api/v1/alerts", Role: RoleViewer},
		{Path: "/api/v1/alerts/stream", Role: RoleViewer},
		{Path: "/api/v1/rules/cache/", Prefix: true, Role: RoleAdmin},
		{Method: http.MethodGet, Path: "/api/", Prefix: true, Role: RoleViewer},
		{Method: http.MethodHead, Path: "/api/", Prefix: true, Role: RoleViewer},
		{Method: http.MethodOptions, Path: "/api/", Prefix: true, Role: RoleViewer},
		{Path: "/api/", Prefix: true, Role: RoleOperator},
	}
}

// IsExempt reports whether a request skips authentication entirely.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	_, ok := p.exempt[r.URL.Path]
	return ok
}

// RequiredRole returns the role of the first matching route.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rt := range p.routes {
		if rt.matches(r.Method, r.URL.Path) {
			return rt.Role, true
		}
	}
	return "", false
}
