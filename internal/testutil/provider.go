package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeProvider is an OAuth2 provider whose authorization codes map to canned
// profiles. The access token for code X is "tok-X".
type FakeProvider struct {
	Server *httptest.Server

	mu          sync.Mutex
	profiles    map[string]map[string]any
	failProfile bool
}

func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()
	p := &FakeProvider{profiles: map[string]map[string]any{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", p.token)
	mux.HandleFunc("/v2/me", p.me)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

func (p *FakeProvider) AuthURL() string  { return p.Server.URL + "/oauth/authorize" }
func (p *FakeProvider) TokenURL() string { return p.Server.URL + "/oauth/token" }
func (p *FakeProvider) APIURL() string   { return p.Server.URL + "/v2" }

// AddStudent registers code as signing in login, enrolled on campus and cursus.
func (p *FakeProvider) AddStudent(code, login string, campusID, cursusID int) {
	p.SetProfile(code, map[string]any{
		"login": login,
		"image": map[string]any{"link": "https://cdn.example.com/" + login + ".jpg"},
		"campus_users": []map[string]any{
			{"campus_id": campusID, "is_primary": true},
		},
		"cursus_users": []map[string]any{
			{"cursus_id": cursusID},
		},
	})
}

func (p *FakeProvider) SetProfile(code string, profile map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[code] = profile
}

// FailProfile makes the profile endpoint answer 500.
func (p *FakeProvider) FailProfile(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failProfile = fail
}

func (p *FakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	code := r.PostForm.Get("code")

	p.mu.Lock()
	_, ok := p.profiles[code]
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  "tok-" + code,
		"refresh_token": "refresh-" + code,
		"token_type":    "bearer",
		"expires_in":    7200,
		"created_at":    1700000000,
	})
}

func (p *FakeProvider) me(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer tok-")

	p.mu.Lock()
	profile, ok := p.profiles[code]
	fail := p.failProfile
	p.mu.Unlock()

	if fail {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}
