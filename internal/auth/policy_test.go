package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPolicyRequiredRole(t *testing.T) {
	policy := NewPolicy([]string{"/healthz", "/metrics"}, AlertRoutes()...)

	cases := []struct {
		method  string
		path    string
		want    Role
		guarded bool
	}{
		{http.MethodPost, "/api/v1/readings", RoleOperator, true},
		{http.MethodGet, "/api/v1/readings", RoleViewer, true},
		{http.MethodGet, "/api/v1/alerts", RoleViewer, true},
		{http.MethodGet, "/api/v1/alerts/stream", RoleViewer, true},
		{http.MethodPost, "/api/v1/rules/cache/invalidate", RoleAdmin, true},
		{http.MethodGet, "/api/v1/rules/cache/anything", RoleAdmin, true},
		{http.MethodDelete, "/api/v1/unknown", RoleOperator, true},
		{http.MethodOptions, "/api/v1/unknown", RoleViewer, true},
		{http.MethodGet, "/static/app.js", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			got, guarded := policy.RequiredRole(httptest.NewRequest(tc.method, tc.path, nil))
			if got != tc.want || guarded != tc.guarded {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tc.want, tc.guarded, got, guarded)
			}
		})
	}
}

func TestPolicyFirstMatchWins(t *testing.T) {
	policy := NewPolicy(nil,
		Route{Path: "/api/v1/rules/", Prefix: true, Role: RoleAdmin},
		Route{Path: "/api/", Prefix: true, Role: RoleViewer},
	)
	if got, _ := policy.RequiredRole(httptest.NewRequest(http.MethodGet, "/api/v1/rules/r1", nil)); got != RoleAdmin {
		t.Fatalf("expected admin, got %q", got)
	}
	if got, _ := policy.RequiredRole(httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)); got != RoleViewer {
		t.Fatalf("expected viewer, got %q", got)
	}
}

func TestPolicyExemptIsExactPath(t *testing.T) {
	policy := NewPolicy([]string{"/healthz"}, AlertRoutes()...)
	if !policy.IsExempt(httptest.NewRequest(http.MethodGet, "/healthz", nil)) {
		t.Fatalf("expected /healthz exempt")
	}
	if policy.IsExempt(httptest.NewRequest(http.MethodGet, "/healthz/deep", nil)) {
		t.Fatalf("exemption must not extend to sub-paths")
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"viewer":     RoleViewer,
		" Operator ": RoleOperator,
		"ADMIN":      RoleAdmin,
	}
	for in, want := range cases {
		if got, ok := NormalizeRole(in); !ok || got != want {
			t.Fatalf("NormalizeRole(%q) = %q, %v", in, got, ok)
		}
	}
	for _, in := range []string{"", "root", "superadmin"} {
		if _, ok := NormalizeRole(in); ok {
			t.Fatalf("NormalizeRole(%q) should fail", in)
		}
	}
}

func TestRoleAllows(t *testing.T) {
	if !RoleAdmin.Allows(RoleOperator) || !RoleOperator.Allows(RoleViewer) || !RoleViewer.Allows(RoleViewer) {
		t.Fatalf("higher roles must allow lower requirements")
	}
	if RoleViewer.Allows(RoleOperator) || RoleOperator.Allows(RoleAdmin) {
		t.Fatalf("lower roles must not allow higher requirements")
	}
	if Role("").Allows(RoleViewer) || Role("guest").Allows(RoleViewer) {
		t.Fatalf("unknown roles allow nothing")
	}
}
