package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"echat/internal/store"
)

// newTestServer starts the full HTTP surface against a throwaway database.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(dir, "test.db")
	cfg.UploadsDir = filepath.Join(dir, "uploads")

	ts := httptest.NewServer(New(cfg, st).Routes())
	t.Cleanup(ts.Close)
	return ts
}

// doJSON issues a JSON request, optionally with a bearer token, and decodes
// the response body into out when out is non-nil.
func doJSON(t *testing.T, method, url, token string, body, out interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, url, err)
		}
	}
	return resp
}

// signup registers a user and returns the issued token response.
func signup(t *testing.T, ts *httptest.Server, email string) tokenResponse {
	t.Helper()

	var token tokenResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "",
		credentialsRequest{Email: email, Password: "password123"}, &token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup for %s returned status %d", email, resp.StatusCode)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil, &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned status %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("health status = %q, want healthy", body["status"])
	}
}

func TestSignupAndLogin(t *testing.T) {
	ts := newTestServer(t)

	issued := signup(t, ts, "alice@example.com")
	if issued.AccessToken == "" || issued.TokenType != "bearer" {
		t.Errorf("unexpected signup token response: %+v", issued)
	}
	if issued.Email != "alice@example.com" {
		t.Errorf("signup email = %q, want alice@example.com", issued.Email)
	}

	// Duplicate signup is rejected.
	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "",
		credentialsRequest{Email: "alice@example.com", Password: "password123"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("duplicate signup returned status %d, want 400", resp.StatusCode)
	}

	var login tokenResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "",
		credentialsRequest{Email: "Alice@Example.com", Password: "password123"}, &login)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned status %d", resp.StatusCode)
	}
	if login.UserID != issued.UserID {
		t.Errorf("login user_id = %d, want %d", login.UserID, issued.UserID)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "",
		credentialsRequest{Email: "alice@example.com", Password: "wrongpassword"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("login with wrong password returned status %d, want 401", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "",
		credentialsRequest{Email: "not-an-email", Password: "password123"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("signup with bad email returned status %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/signup", "",
		credentialsRequest{Email: "short@example.com", Password: "short"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("signup with short password returned status %d, want 400", resp.StatusCode)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, url := range []string{ts.URL + "/chat/contacts", ts.URL + "/profile/me"} {
		resp := doJSON(t, http.MethodGet, url, "", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token returned status %d, want 401", url, resp.StatusCode)
		}
	}

	resp := doJSON(t, http.MethodGet, ts.URL+"/chat/contacts", "garbage-token", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET with invalid token returned status %d, want 401", resp.StatusCode)
	}
}

func TestContactsAddAndList(t *testing.T) {
	ts := newTestServer(t)
	alice := signup(t, ts, "alice@example.com")
	bob := signup(t, ts, "bob@example.com")

	var added contactResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/chat/contacts", alice.AccessToken,
		map[string]string{"email": "bob@example.com"}, &added)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("adding contact returned status %d", resp.StatusCode)
	}
	if added.ID != bob.UserID {
		t.Errorf("added contact id = %d, want %d", added.ID, bob.UserID)
	}

	// Self-add and unknown users are rejected the same way.
	resp = doJSON(t, http.MethodPost, ts.URL+"/chat/contacts", alice.AccessToken,
		map[string]string{"email": "alice@example.com"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("self-add returned status %d, want 400", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/chat/contacts", alice.AccessToken,
		map[string]string{"email": "nobody@example.com"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown-user add returned status %d, want 400", resp.StatusCode)
	}

	var contacts []contactResponse
	doJSON(t, http.MethodGet, ts.URL+"/chat/contacts", alice.AccessToken, nil, &contacts)
	if len(contacts) != 1 || contacts[0].ID != bob.UserID {
		t.Errorf("contact list = %+v, want only bob", contacts)
	}

	// The edge is one-directional until a message flows back.
	var bobContacts []contactResponse
	doJSON(t, http.MethodGet, ts.URL+"/chat/contacts", bob.AccessToken, nil, &bobContacts)
	if len(bobContacts) != 0 {
		t.Errorf("bob's contact list = %+v, want empty", bobContacts)
	}
}

func TestGroupLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice := signup(t, ts, "alice@example.com")
	bob := signup(t, ts, "bob@example.com")

	var group groupResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/chat/groups", alice.AccessToken,
		map[string]string{"name": "team"}, &group)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("creating group returned status %d", resp.StatusCode)
	}
	if group.AdminID != alice.UserID {
		t.Errorf("group admin_id = %d, want %d", group.AdminID, alice.UserID)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/chat/groups", alice.AccessToken,
		map[string]string{"name": "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("creating group with blank name returned status %d, want 400", resp.StatusCode)
	}

	memberURL := fmt.Sprintf("%s/chat/groups/%d/members", ts.URL, group.ID)
	resp = doJSON(t, http.MethodPost, memberURL, alice.AccessToken,
		map[string]string{"email": "bob@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("adding member returned status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/chat/groups/9999/members", alice.AccessToken,
		map[string]string{"email": "bob@example.com"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("adding member to unknown group returned status %d, want 404", resp.StatusCode)
	}

	// Creator and the added member both see the group.
	for _, token := range []string{alice.AccessToken, bob.AccessToken} {
		var groups []groupResponse
		doJSON(t, http.MethodGet, ts.URL+"/chat/groups", token, nil, &groups)
		if len(groups) != 1 || groups[0].ID != group.ID {
			t.Errorf("group list = %+v, want only group %d", groups, group.ID)
		}
	}
}

func TestProfileGetAndUpdate(t *testing.T) {
	ts := newTestServer(t)
	alice := signup(t, ts, "alice@example.com")

	var profile profileResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/profile/me", alice.AccessToken, nil, &profile)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetching profile returned status %d", resp.StatusCode)
	}
	// Fresh accounts get derived defaults.
	if profile.DisplayName != "alice" {
		t.Errorf("default display_name = %q, want alice", profile.DisplayName)
	}
	if profile.About != defaultAbout {
		t.Errorf("default about = %q, want %q", profile.About, defaultAbout)
	}
	if profile.ThemePreference != "light" {
		t.Errorf("default theme_preference = %q, want light", profile.ThemePreference)
	}

	name := "Alice A."
	theme := "dark"
	var updated profileResponse
	resp = doJSON(t, http.MethodPut, ts.URL+"/profile/me", alice.AccessToken,
		map[string]*string{"display_name": &name, "theme_preference": &theme}, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("updating profile returned status %d", resp.StatusCode)
	}
	if updated.DisplayName != "Alice A." || updated.ThemePreference != "dark" {
		t.Errorf("unexpected profile after update: %+v", updated)
	}
	if updated.About != defaultAbout {
		t.Errorf("about changed unexpectedly: %q", updated.About)
	}
}

func TestDirectHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	alice := signup(t, ts, "alice@example.com")
	bob := signup(t, ts, "bob@example.com")

	historyURL := fmt.Sprintf("%s/chat/history/%d", ts.URL, bob.UserID)
	var history []messagePayload
	resp := doJSON(t, http.MethodGet, historyURL, alice.AccessToken, nil, &history)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetching history returned status %d", resp.StatusCode)
	}
	if len(history) != 0 {
		t.Errorf("fresh conversation history has %d messages, want 0", len(history))
	}
}
