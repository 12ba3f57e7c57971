// Package twitchapi is a minimal Helix client: login to user-id resolution
// and live-status lookup, authenticated with an app access token obtained
// through the client-credentials grant.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultBaseURL = "https://api.twitch.tv/helix"
	tokenURL       = "https://id.twitch.tv/oauth2/token"
)

// HelixClient calls the Helix REST API. Zero-value fields fall back to the
// production endpoints; tests point BaseURL at a local server.
type HelixClient struct {
	ClientID   string
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
	BaseURL    string
}

// NewHelix builds a client whose app token is fetched and cached by the
// client-credentials flow.
func NewHelix(clientID, clientSecret string) *HelixClient {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &HelixClient{
		ClientID: clientID,
		Tokens:   cc.TokenSource(context.Background()),
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return defaultBaseURL
}

// get performs an authenticated GET and decodes the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, path string, query map[string][]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	tok, err := hc.Tokens.Token()
	if err != nil {
		return fmt.Errorf("app token: %w", err)
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its stable user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", map[string][]string{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user %q not found", login)
	}
	return body.Data[0].ID, nil
}

// LiveLogins reports which of the given logins currently have a stream up.
// The result maps lowercase login to true for live channels; absent or
// offline logins are simply not set.
func (hc *HelixClient) LiveLogins(ctx context.Context, logins []string) (map[string]bool, error) {
	live := make(map[string]bool, len(logins))
	// The streams endpoint takes at most 100 logins per request.
	for start := 0; start < len(logins); start += 100 {
		end := start + 100
		if end > len(logins) {
			end = len(logins)
		}
		var body struct {
			Data []struct {
				UserLogin string `json:"user_login"`
				Type      string `json:"type"`
			} `json:"data"`
		}
		if err := hc.get(ctx, "/streams", map[string][]string{"user_login": logins[start:end]}, &body); err != nil {
			return nil, err
		}
		for _, s := range body.Data {
			if s.Type == "live" {
				live[s.UserLogin] = true
			}
		}
	}
	return live, nil
}
