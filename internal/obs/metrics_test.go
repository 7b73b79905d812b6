package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/auth/login":                        "/v1/auth/login",
		"/v1/content-units/abc":                 "/v1/content-units/:id",
		"/v1/content-units/abc/access":          "/v1/content-units/:id/access",
		"/v1/content-units/abc/status":          "/v1/content-units/:id/status",
		"/v1/content-units/abc/extra":           "/v1/content-units/abc/extra",
		"/v1/tenants/col-1":                     "/v1/tenants/:id",
		"/v1/tenants/col-1/status":              "/v1/tenants/:id/status",
		"/v1/content-units/abc/access?x=1":      "/v1/content-units/:id/access",
		"/v1/tenants/col-1/status?tenant_id=t1": "/v1/tenants/:id/status",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
