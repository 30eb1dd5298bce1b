package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StricklySoft/authgate/pkg/identity"
)

// AuthServer is an in-process stand-in for the external auth service. It
// answers POST /validate and GET /health the way the real service does and
// lets tests script latency, outages and malformed answers.
type AuthServer struct {
	*httptest.Server

	mu          sync.Mutex
	tokens      map[string]identity.ValidationResult
	delay       time.Duration
	healthDelay time.Duration
	status      int
	rawBody     string
	healthy     bool

	validateCalls atomic.Int64
	healthCalls   atomic.Int64
}

// NewAuthServer starts an AuthServer that is closed when the test ends.
func NewAuthServer(t testing.TB) *AuthServer {
	t.Helper()
	s := &AuthServer{
		tokens:  make(map[string]identity.ValidationResult),
		healthy: true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/validate", s.handleValidate)
	mux.HandleFunc("/health", s.handleHealth)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddToken makes token validate to result. Valid is forced to true.
func (s *AuthServer) AddToken(token string, result identity.ValidationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result.Valid = true
	s.tokens[token] = result
}

// SetDelay delays every /validate answer by d, or until the client gives up.
func (s *AuthServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetHealthDelay delays every /health answer by d.
func (s *AuthServer) SetHealthDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthDelay = d
}

// FailWith makes /validate answer status with an error body. Zero restores
// normal behaviour.
func (s *AuthServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.rawBody = ""
}

// RespondRaw makes /validate answer status with body verbatim.
func (s *AuthServer) RespondRaw(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.rawBody = body
}

// SetHealthy controls the /health status: 200 or 503.
func (s *AuthServer) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// ValidateCalls returns how many /validate requests arrived.
func (s *AuthServer) ValidateCalls() int { return int(s.validateCalls.Load()) }

// HealthCalls returns how many /health requests arrived.
func (s *AuthServer) HealthCalls() int { return int(s.healthCalls.Load()) }

func (s *AuthServer) snapshot() (delay time.Duration, status int, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, s.status, s.rawBody
}

func (s *AuthServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.validateCalls.Add(1)
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	delay, status, raw := s.snapshot()
	if !sleep(r, delay) {
		return
	}

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if raw == "" {
			raw = `{"valid":false,"error":"upstream failure"}`
		}
		_, _ = w.Write([]byte(raw))
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	header := r.Header.Get("Authorization")
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
		!strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != body.Token {
		writeJSON(w, http.StatusBadRequest, identity.ValidationResult{Error: "malformed request"})
		return
	}

	s.mu.Lock()
	result, ok := s.tokens[body.Token]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, identity.ValidationResult{Error: "invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *AuthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.healthCalls.Add(1)
	s.mu.Lock()
	delay, healthy := s.healthDelay, s.healthy
	s.mu.Unlock()

	if !sleep(r, delay) {
		return
	}
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// sleep waits d or until the client disconnects. It reports whether the
// handler should still answer.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
