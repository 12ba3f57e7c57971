package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
}

func TestGetUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Client-Id") != "cid" {
			t.Error("missing Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing Authorization header")
		}
		if got := r.URL.Query().Get("login"); got != "someuser" {
			t.Errorf("login query = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "12345", "login": "someuser"}},
		})
	}))
	defer srv.Close()

	hc := &HelixClient{ClientID: "cid", Tokens: staticTokens(), BaseURL: srv.URL}
	id, err := hc.GetUserID(context.Background(), "someuser")
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if id != "12345" {
		t.Errorf("id = %q", id)
	}
}

func TestGetUserIDNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	hc := &HelixClient{ClientID: "cid", Tokens: staticTokens(), BaseURL: srv.URL}
	if _, err := hc.GetUserID(context.Background(), "ghost"); err == nil {
		t.Error("unknown user should error")
	}
	if _, err := hc.GetUserID(context.Background(), ""); err == nil {
		t.Error("empty login should error")
	}
}

func TestLiveLogins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streams" {
			t.Errorf("path = %q", r.URL.Path)
		}
		logins := r.URL.Query()["user_login"]
		if len(logins) != 3 {
			t.Errorf("user_login params = %v", logins)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"user_login": "alpha", "type": "live"},
				{"user_login": "gamma", "type": ""},
			},
		})
	}))
	defer srv.Close()

	hc := &HelixClient{ClientID: "cid", Tokens: staticTokens(), BaseURL: srv.URL}
	live, err := hc.LiveLogins(context.Background(), []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("LiveLogins: %v", err)
	}
	if !live["alpha"] {
		t.Error("alpha should be live")
	}
	if live["beta"] {
		t.Error("beta should be offline")
	}
	if live["gamma"] {
		t.Error("a non-live stream entry should not count as live")
	}
}

func TestHelixErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	hc := &HelixClient{ClientID: "cid", Tokens: staticTokens(), BaseURL: srv.URL}
	if _, err := hc.LiveLogins(context.Background(), []string{"x"}); err == nil {
		t.Error("non-200 response should error")
	}
}

func TestRefreshUserToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("refresh_token") != "old-refresh" {
			t.Errorf("refresh_token = %q", r.Form.Get("refresh_token"))
		}
		json.NewEncoder(w).Encode(RefreshResult{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
			Scope:        []string{"chat:read", "chat:edit"},
		})
	}))
	defer srv.Close()

	res, err := refreshUserToken(context.Background(), srv.URL, "cid", "secret", "old-refresh")
	if err != nil {
		t.Fatalf("refreshUserToken: %v", err)
	}
	if res.AccessToken != "new-access" || res.RefreshToken != "new-refresh" {
		t.Errorf("result = %+v", res)
	}
}

func TestRefreshUserTokenValidation(t *testing.T) {
	if _, err := refreshUserToken(context.Background(), "http://unused", "", "s", "r"); err == nil {
		t.Error("missing client id should fail before any request")
	}
}
