// Package main provides a mock FieldServe backend for exercising the
// client: JWT login/refresh, an in-memory work-order store, a health
// endpoint, and failure-injection endpoints for testing retries and
// circuit breaking.
//
//	/__status/503          always answers 503
//	/__flaky?fail=N        the next N work-order requests answer 503
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var signingKey = []byte("mockapi-dev-key")

type user struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type workOrder struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type server struct {
	mu        sync.Mutex
	orders    map[int64]*workOrder
	nextID    int64
	failNext  int
	accessTTL time.Duration
	password  string
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	password := flag.String("password", "hunter2", "accepted password for any email")
	accessTTL := flag.Duration("access-ttl", time.Hour, "access token lifetime")
	flag.Parse()

	s := &server{
		orders:    map[int64]*workOrder{},
		nextID:    1,
		accessTTL: *accessTTL,
		password:  *password,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /auth/me", s.authed(s.handleMe))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /workorders", s.authed(s.flaky(s.handleList)))
	mux.HandleFunc("POST /workorders", s.authed(s.flaky(s.handleCreate)))
	mux.HandleFunc("GET /workorders/{id}", s.authed(s.flaky(s.handleGet)))
	mux.HandleFunc("PATCH /workorders/{id}", s.authed(s.flaky(s.handleUpdate)))
	mux.HandleFunc("DELETE /workorders/{id}", s.authed(s.flaky(s.handleDelete)))
	mux.HandleFunc("POST /workorders/{id}/complete", s.authed(s.flaky(s.handleComplete)))

	// /__status/{code} returns an arbitrary HTTP status code, useful for
	// exercising the error classifier directly.
	mux.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/__status/"))
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		writeJSON(w, code, map[string]any{"requested_code": code, "message": http.StatusText(code)})
	})
	// /__flaky?fail=N makes the next N work-order requests answer 503.
	mux.HandleFunc("POST /__flaky", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("fail"))
		s.mu.Lock()
		s.failNext = n
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]int{"failing_next": n})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mockapi listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Email == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "email and password required"})
		return
	}
	if creds.Password != s.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid credentials"})
		return
	}
	s.writeTokens(w, creds.Email)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "refresh_token required"})
		return
	}
	claims, err := parseToken(body.RefreshToken)
	if err != nil || claims["typ"] != "refresh" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid refresh token"})
		return
	}
	email, _ := claims["sub"].(string)
	s.writeTokens(w, email)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	email := r.Header.Get("X-Auth-Email")
	writeJSON(w, http.StatusOK, user{ID: 1, Email: email, FullName: "Mock Technician", Role: "technician"})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]*workOrder, 0, len(s.orders))
	for _, wo := range s.orders {
		if st := r.URL.Query().Get("status"); st != "" && wo.Status != st {
			continue
		}
		items = append(items, wo)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items, "total": len(items), "page": 1, "page_size": 50,
	})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Title == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []any{"body", "title"}, "msg": "field required"}},
		})
		return
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
	s.mu.Lock()
	wo := &workOrder{
		ID: s.nextID, Title: in.Title, Description: in.Description,
		Status: "open", Priority: in.Priority,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	s.orders[wo.ID] = wo
	s.nextID++
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, wo)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	if wo := s.lookup(w, r); wo != nil {
		writeJSON(w, http.StatusOK, wo)
	}
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	wo := s.lookup(w, r)
	if wo == nil {
		return
	}
	var in struct {
		Title    *string `json:"title"`
		Status   *string `json:"status"`
		Priority *string `json:"priority"`
	}
	json.NewDecoder(r.Body).Decode(&in) //nolint:errcheck
	s.mu.Lock()
	if in.Title != nil {
		wo.Title = *in.Title
	}
	if in.Status != nil {
		wo.Status = *in.Status
	}
	if in.Priority != nil {
		wo.Priority = *in.Priority
	}
	wo.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, wo)
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	wo := s.lookup(w, r)
	if wo == nil {
		return
	}
	s.mu.Lock()
	now := time.Now().UTC()
	wo.Status = "completed"
	wo.CompletedAt = &now
	wo.UpdatedAt = now
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, wo)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	wo := s.lookup(w, r)
	if wo == nil {
		return
	}
	s.mu.Lock()
	delete(s.orders, wo.ID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) lookup(w http.ResponseWriter, r *http.Request) *workOrder {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	s.mu.Lock()
	wo := s.orders[id]
	s.mu.Unlock()
	if wo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "work order not found"})
		return nil
	}
	return wo
}

// authed verifies the bearer token and stashes the subject for handlers.
func (s *server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "missing bearer token"})
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

// flaky serves injected 503s before delegating.
func (s *server) flaky(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		inject := s.failNext > 0
		if inject {
			s.failNext--
		}
		s.mu.Unlock()
		if inject {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "injected failure"})
			return
		}
		next(w, r)
	}
}

func (s *server) writeTokens(w http.ResponseWriter, email string) {
	access, err := signToken(email, "access", s.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	refresh, err := signToken(email, "refresh", 24*time.Hour)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": access, "refresh_token": refresh, "token_type": "bearer",
	})
}

func signToken(email, typ string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": email,
		"typ": typ,
		"exp": jwt.NewNumericDate(time.Now().Add(ttl)),
		"iat": jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

func parseToken(raw string) (jwt.MapClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
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
