//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldserve/client-go/client"
	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("integration-test-key")

// backend is an in-process FieldServe API with knobs for failure injection,
// token lifetime, and revocation: the behaviors the client has to survive.
type backend struct {
	t *testing.T
	*httptest.Server

	mu          sync.Mutex
	orders      map[int64]*workOrder
	nextID      int64
	accessTTL   time.Duration
	failNext    int // remaining work-order requests to answer 503
	revoked     bool
	refreshHits int
}

type workOrder struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func newBackend(t *testing.T) *backend {
	b := &backend{t: t, orders: map[int64]*workOrder{}, nextID: 1, accessTTL: time.Hour}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&creds) //nolint:errcheck
		if creds.Password != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
			return
		}
		b.writeTokens(w, creds.Email)
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.refreshHits++
		b.mu.Unlock()
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		claims, err := parseToken(body.RefreshToken)
		if err != nil || claims["typ"] != "refresh" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid refresh token"})
			return
		}
		email, _ := claims["sub"].(string)
		b.writeTokens(w, email)
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /auth/me", b.authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, client.User{ID: 1, Email: r.Header.Get("X-Auth-Email"), FullName: "Integration Tech", Role: "technician"})
	}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /workorders", b.authed(b.flaky(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		items := make([]*workOrder, 0, len(b.orders))
		for _, wo := range b.orders {
			items = append(items, wo)
		}
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items), "page": 1, "page_size": 50})
	})))
	mux.HandleFunc("POST /workorders", b.authed(b.flaky(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Title    string `json:"title"`
			Priority string `json:"priority"`
		}
		json.NewDecoder(r.Body).Decode(&in) //nolint:errcheck
		if in.Priority == "" {
			in.Priority = "medium"
		}
		b.mu.Lock()
		wo := &workOrder{ID: b.nextID, Title: in.Title, Status: "open", Priority: in.Priority, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		b.orders[wo.ID] = wo
		b.nextID++
		b.mu.Unlock()
		writeJSON(w, http.StatusCreated, wo)
	})))
	mux.HandleFunc("GET /workorders/{id}", b.authed(b.flaky(func(w http.ResponseWriter, r *http.Request) {
		if wo := b.lookup(w, r); wo != nil {
			writeJSON(w, http.StatusOK, wo)
		}
	})))
	mux.HandleFunc("POST /workorders/{id}/complete", b.authed(b.flaky(func(w http.ResponseWriter, r *http.Request) {
		wo := b.lookup(w, r)
		if wo == nil {
			return
		}
		b.mu.Lock()
		now := time.Now().UTC()
		wo.Status = "completed"
		wo.CompletedAt = &now
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, wo)
	})))
	mux.HandleFunc("DELETE /workorders/{id}", b.authed(b.flaky(func(w http.ResponseWriter, r *http.Request) {
		wo := b.lookup(w, r)
		if wo == nil {
			return
		}
		b.mu.Lock()
		delete(b.orders, wo.ID)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})))

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Server.Close)
	return b
}

func (b *backend) injectFailures(n int) {
	b.mu.Lock()
	b.failNext = n
	b.mu.Unlock()
}

func (b *backend) revoke() {
	b.mu.Lock()
	b.revoked = true
	b.mu.Unlock()
}

func (b *backend) refreshCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshHits
}

func (b *backend) lookup(w http.ResponseWriter, r *http.Request) *workOrder {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	b.mu.Lock()
	wo := b.orders[id]
	b.mu.Unlock()
	if wo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "work order not found"})
		return nil
	}
	return wo
}

func (b *backend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		revoked := b.revoked
		b.mu.Unlock()
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || revoked {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "unauthorized"})
			return
		}
		claims, err := parseToken(raw)
		if err != nil || claims["typ"] != "access" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid or expired token"})
			return
		}
		if email, ok := claims["sub"].(string); ok {
			r.Header.Set("X-Auth-Email", email)
		}
		next(w, r)
	}
}

func (b *backend) flaky(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		inject := b.failNext > 0
		if inject {
			b.failNext--
		}
		b.mu.Unlock()
		if inject {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "injected failure"})
			return
		}
		next(w, r)
	}
}

func (b *backend) writeTokens(w http.ResponseWriter, email string) {
	b.mu.Lock()
	ttl := b.accessTTL
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  signToken(b.t, email, "access", ttl),
		"refresh_token": signToken(b.t, email, "refresh", 24*time.Hour),
		"token_type":    "bearer",
	})
}

func signToken(t *testing.T, email, typ string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": email, "typ": typ, "exp": jwt.NewNumericDate(time.Now().Add(ttl))}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func parseToken(raw string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return signingKey, nil })
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// clientOpts tune the per-test configuration file. Zero values fall back
// to the module defaults.
type clientOpts struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	refreshLeeway    time.Duration
	recheckInterval  time.Duration
}

// newClient builds a Client against the backend from a real config file.
func newClient(t *testing.T, b *backend, opts clientOpts) *client.Client {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`api:
  base_url: %s
  timeout: 2s
retry:
  max_retries: 3
  base_delay: 20ms
  max_delay: 100ms
session:
  store_path: %s
`, b.URL, filepath.Join(dir, "session.json"))
	if opts.refreshLeeway > 0 {
		yaml += fmt.Sprintf("  refresh_leeway: %s\n", opts.refreshLeeway)
	}
	if opts.recheckInterval > 0 {
		yaml += fmt.Sprintf("  recheck_interval: %s\n", opts.recheckInterval)
	}
	if opts.failureThreshold > 0 {
		yaml += fmt.Sprintf("circuit_breaker:\n  failure_threshold: %d\n  recovery_timeout: %s\n", opts.failureThreshold, opts.recoveryTimeout)
	}
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := client.New(client.Options{ConfigFile: cfgPath, Logger: logger})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}
