package endpoint

import "testing"

func TestKey(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{"GET", "/workorders", "GET /workorders"},
		{"get", "/workorders", "GET /workorders"},
		{"GET", "/workorders/17", "GET /workorders/{id}"},
		{"PUT", "/workorders/23", "PUT /workorders/{id}"},
		{"POST", "/workorders/42/complete", "POST /workorders/{id}/complete"},
		{"GET", "/workorders/550e8400-e29b-41d4-a716-446655440000", "GET /workorders/{id}"},
		{"GET", "/workorders?status=open&page=2", "GET /workorders"},
		{"GET", "", "GET /"},
		{"GET", "health", "GET /health"},
		{"POST", "/auth/login", "POST /auth/login"},
	}
	for _, tc := range cases {
		if got := Key(tc.method, tc.path); got != tc.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestSharedBreakerKey(t *testing.T) {
	// Different IDs of the same resource must map to one endpoint.
	a := Key("GET", "/workorders/17")
	b := Key("GET", "/workorders/23")
	if a != b {
		t.Fatalf("expected shared key, got %q and %q", a, b)
	}
	// Different methods must not share state.
	if Key("GET", "/workorders/17") == Key("DELETE", "/workorders/17") {
		t.Fatal("methods must have distinct keys")
	}
}

func TestIsIDSegment(t *testing.T) {
	cases := []struct {
		seg  string
		want bool
	}{
		{"17", true},
		{"0", true},
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"workorders", false},
		{"v2", false},
		{"", false},
		{"550e8400e29b41d4a716", false},
	}
	for _, tc := range cases {
		if got := isIDSegment(tc.seg); got != tc.want {
			t.Errorf("isIDSegment(%q) = %v, want %v", tc.seg, got, tc.want)
		}
	}
}
