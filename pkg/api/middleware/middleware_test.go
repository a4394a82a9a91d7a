package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/malaphor/pkg/auth"
	"github.com/dd0wney/malaphor/pkg/config"
	"github.com/dd0wney/malaphor/pkg/logging"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
})

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", rr.Body.String())
	}
	if body.Code != rr.Code {
		t.Errorf("body code = %d, status = %d", body.Code, rr.Code)
	}
	return body.Message
}

func TestBodySizeLimit(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name          string
		body          string
		contentLength int64
		want          int
	}{
		{"small body", "small", 5, http.StatusOK},
		{"declared too large", "", 1000, http.StatusRequestEntityTooLarge},
		{"streamed too large", strings.Repeat("x", 100), -1, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rr := httptest.NewRecorder()
			BodySizeLimit(10)(echo).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, logging.InfoLevel)
	handler := PanicRecovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if msg := errorBody(t, rr); msg != "internal server error" {
		t.Errorf("error = %q", msg)
	}
	if strings.Contains(rr.Body.String(), "boom") {
		t.Error("panic value leaked to the client")
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Error("panic value not logged")
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"client id kept", "abc-123", "abc-123"},
		{"unsafe characters stripped", "abc<script>", "abcscript"},
		{"truncated", strings.Repeat("a", 100), strings.Repeat("a", maxRequestIDLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.header)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if seen != tt.want || rr.Header().Get(RequestIDHeader) != tt.want {
				t.Errorf("id = %q (header %q), want %q", seen, rr.Header().Get(RequestIDHeader), tt.want)
			}
		})
	}

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if len(seen) != 36 {
			t.Errorf("generated id %q is not a UUID", seen)
		}
	})
}

func TestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, logging.InfoLevel)
	handler := RequestID()(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("nope"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/x", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line struct {
		Level  string         `json:"level"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line: %v", err)
	}
	if line.Level != "ERROR" {
		t.Errorf("level = %s, want ERROR", line.Level)
	}
	if line.Fields["status"] != float64(502) || line.Fields["bytes"] != float64(4) {
		t.Errorf("fields = %v", line.Fields)
	}
	if line.Fields["request_id"] != "req-1" {
		t.Errorf("request_id = %v", line.Fields["request_id"])
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []string
	sizes    []int
	inFlight int
	peak     int
}

func (f *fakeRecorder) RecordHTTPRequest(method, path, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, method+" "+path+" "+status)
}

func (f *fakeRecorder) RecordHTTPResponseSize(_, _ string, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, size)
}

func (f *fakeRecorder) IncHTTPRequestsInFlight() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
}

func (f *fakeRecorder) DecHTTPRequestsInFlight() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("gone"))
	})
	handler := Metrics(rec)(mux)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/reports/abc", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	want := []string{
		"GET GET /api/v1/reports/{id} 404",
		"GET unmatched 404",
	}
	if len(rec.requests) != len(want) {
		t.Fatalf("requests = %v", rec.requests)
	}
	for i := range want {
		if rec.requests[i] != want[i] {
			t.Errorf("request %d = %q, want %q", i, rec.requests[i], want[i])
		}
	}
	if rec.sizes[0] != 4 {
		t.Errorf("size = %d, want 4", rec.sizes[0])
	}
	if rec.inFlight != 0 || rec.peak != 1 {
		t.Errorf("in flight = %d, peak = %d", rec.inFlight, rec.peak)
	}
}

func TestCORS(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://ui.example.com"}
	handler := CORS(cfg)(okHandler)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"allowed simple", http.MethodGet, "https://ui.example.com", false, http.StatusOK, "https://ui.example.com"},
		{"other origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, ""},
		{"allowed preflight", http.MethodOptions, "https://ui.example.com", true, http.StatusNoContent, "https://ui.example.com"},
		{"denied preflight", http.MethodOptions, "https://evil.example.com", true, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/analyze", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{"X-Frame-Options", "X-Content-Type-Options", "Content-Security-Policy", "Strict-Transport-Security"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}

	rr = httptest.NewRecorder()
	SecurityHeaders(false)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set without TLS")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2, ClientExpiration: time.Minute}, nil)
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst requests rejected")
	}
	if rl.Allow("a") {
		t.Fatal("third request allowed with empty bucket")
	}
	if !rl.Allow("b") {
		t.Fatal("clients share a bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("a") {
		t.Error("bucket did not refill after one second")
	}

	now = now.Add(2 * time.Minute)
	if removed := rl.cleanup(); removed != 2 || rl.Clients() != 0 {
		t.Errorf("cleanup removed %d, %d left", removed, rl.Clients())
	}
	rl.Stop()
}

func TestRateLimiterMaxClients(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxClients: 1}, nil)
	defer rl.Stop()

	if !rl.Allow("a") {
		t.Fatal("first client rejected")
	}
	if rl.Allow("b") {
		t.Error("client beyond MaxClients allowed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1}, nil)
	defer rl.Stop()
	handler := RateLimit(rl, ClientIP(nil))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "1" {
		t.Errorf("second request status = %d, Retry-After = %q", rr.Code, rr.Header().Get("Retry-After"))
	}

	if RateLimit(nil, ClientIP(nil))(okHandler) == nil {
		t.Error("nil limiter returned nil handler")
	}
}

func TestParseTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    int
		wantErr bool
	}{
		{"empty", nil, 0, false},
		{"cidrs", []string{"10.0.0.0/8", "172.16.0.0/12"}, 2, false},
		{"bare ips", []string{"10.0.0.1", "::1"}, 2, false},
		{"whitespace and blanks", []string{" 10.0.0.0/8 ", ""}, 1, false},
		{"invalid ip", []string{"not-an-ip"}, 0, true},
		{"invalid cidr", []string{"10.0.0.0/99"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nets, err := ParseTrustedProxies(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(nets) != tt.want {
				t.Errorf("got %d networks, want %d", len(nets), tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	clientIP := ClientIP(trusted)

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		xff        string
		want       string
	}{
		{"direct", "192.0.2.1:1234", "", "", "192.0.2.1"},
		{"untrusted peer ignores headers", "192.0.2.1:1234", "198.51.100.7", "198.51.100.8", "192.0.2.1"},
		{"trusted peer real ip", "10.1.2.3:80", "198.51.100.7", "", "198.51.100.7"},
		{"trusted peer forwarded for", "10.1.2.3:80", "", "198.51.100.8, 10.1.2.3", "198.51.100.8"},
		{"trusted peer bad header", "10.1.2.3:80", "garbage", "", "10.1.2.3"},
		{"no port", "192.0.2.9", "", "", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuth(t *testing.T) {
	secret := strings.Repeat("s", 32)
	authn, err := auth.NewAuthenticator(config.ServerConfig{JWTSecret: secret})
	if err != nil {
		t.Fatal(err)
	}
	jwtm, err := auth.NewJWTManager(secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	viewer, err := jwtm.GenerateToken("vera", auth.RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	analyst, err := jwtm.GenerateToken("ana", auth.RoleAnalyst)
	if err != nil {
		t.Fatal(err)
	}

	var failures int
	var subject string
	handler := Auth(authn, auth.RoleAnalyst, func(*http.Request, error) { failures++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFrom(r.Context())
		subject = p.Subject
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no credentials", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"role too weak", "Bearer " + viewer, http.StatusForbidden},
		{"analyst", "Bearer " + analyst, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
	if failures != 4 {
		t.Errorf("failures = %d, want 4", failures)
	}
	if subject != "ana" {
		t.Errorf("principal subject = %q", subject)
	}
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	authn, err := auth.NewAuthenticator(config.ServerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	Auth(authn, auth.RoleAdmin, nil)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}
