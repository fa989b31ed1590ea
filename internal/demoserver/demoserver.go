// Package demoserver is a local scan target for development. It serves a
// page under switchable security-header profiles so the scanner can be
// exercised against known-good and known-bad configurations end to end.
// Scanning it requires WEBSENTRY_ALLOW_PRIVATE_TARGETS=true, since it only
// listens on localhost.
package demoserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Config holds configuration for the demo server.
type Config struct {
	// Port is the port on which the demo server listens.
	Port int

	// InitialProfile is the profile pages start with.
	InitialProfile string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:           9999,
		InitialProfile: "insecure",
	}
}

// Profile is one named set of response headers and cookies.
type Profile struct {
	Description string
	Headers     map[string]string
	Cookies     []*http.Cookie
}

// Profiles returns the built-in header profiles by name.
func Profiles() map[string]Profile {
	return map[string]Profile{
		"secure": {
			Description: "Everything a hardened site should send",
			Headers: map[string]string{
				"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
				"Content-Security-Policy":   "default-src 'self'",
				"X-Frame-Options":           "DENY",
				"X-Content-Type-Options":    "nosniff",
				"Referrer-Policy":           "strict-origin-when-cross-origin",
				"Permissions-Policy":        "geolocation=(), camera=(), microphone=()",
			},
			Cookies: []*http.Cookie{{
				Name:     "session",
				Value:    "demo",
				Path:     "/",
				Secure:   true,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			}},
		},
		"insecure": {
			Description: "No protective headers, leaky server banner, bare cookie",
			Headers: map[string]string{
				"Server":       "Apache/2.4.29 (Ubuntu)",
				"X-Powered-By": "PHP/7.2.24",
			},
			Cookies: []*http.Cookie{{
				Name:  "session",
				Value: "demo",
				Path:  "/",
			}},
		},
		"mixed": {
			Description: "Partial hardening with weak values",
			Headers: map[string]string{
				"Strict-Transport-Security": "max-age=86400",
				"Content-Security-Policy":   "default-src 'self' 'unsafe-inline'",
				"X-Frame-Options":           "ALLOW-FROM https://partner.example",
				"X-XSS-Protection":          "1; mode=block",
			},
			Cookies: []*http.Cookie{{
				Name:     "session",
				Value:    "demo",
				Path:     "/",
				HttpOnly: true,
			}},
		},
	}
}

// DemoServer serves the demo pages and the profile-switching endpoints.
type DemoServer struct {
	cfg      Config
	profiles map[string]Profile

	mu      sync.RWMutex
	current string
}

func NewDemoServer(cfg Config) *DemoServer {
	profiles := Profiles()
	current := cfg.InitialProfile
	if _, ok := profiles[current]; !ok {
		current = "insecure"
	}
	return &DemoServer{cfg: cfg, profiles: profiles, current: current}
}

// Handler builds the demo routes.
func (s *DemoServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.pageHandler)
	mux.HandleFunc("/demo/profile", s.profileHandler)
	mux.HandleFunc("/demo/set-profile", s.setProfileHandler)
	return mux
}

// Start starts the demo server.
func (s *DemoServer) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	fmt.Printf("Demo server starting on http://localhost%s\n", addr)
	fmt.Printf("Current profile: %s (switch via POST /demo/set-profile?name=...)\n", s.currentProfile())
	return http.ListenAndServe(addr, s.Handler())
}

func (s *DemoServer) currentProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *DemoServer) pageHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	profile := s.profiles[s.current]
	name := s.current
	s.mu.RUnlock()

	for k, v := range profile.Headers {
		w.Header().Set(k, v)
	}
	for _, c := range profile.Cookies {
		http.SetCookie(w, c)
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>websentry demo target</title></head>
<body>
<h1>websentry demo target</h1>
<p>Serving the <strong>%s</strong> profile: %s</p>
</body>
</html>`, name, profile.Description)
}

func (s *DemoServer) profileHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type info struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Active      bool   `json:"active"`
	}
	var out []info
	for name, p := range s.profiles {
		out = append(out, info{Name: name, Description: p.Description, Active: name == s.current})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *DemoServer) setProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.FormValue("name")
	if _, ok := s.profiles[name]; !ok {
		http.Error(w, "Unknown profile", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.current = name
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"profile": name,
	})
}
