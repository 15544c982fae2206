package vendora

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// NewRefreshFunc builds an account.RefreshFunc performing the standard
// OAuth2 refresh_token grant against Google's token endpoint (spec §4.3,
// "A uses standard OAuth refresh"). clientID/clientSecret are the same
// application credentials the out-of-core login flow used to mint the
// refresh token in the first place.
func NewRefreshFunc(clientID, clientSecret string) account.RefreshFunc {
	return func(ctx context.Context, httpClient *http.Client, acct *account.Account) (accessToken, refreshToken string, expiresAt time.Time, err error) {
		form := url.Values{
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"refresh_token": {acct.RefreshToken},
			"grant_type":    {"refresh_token"},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", "", time.Time{}, fmt.Errorf("build refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := httpClient.Do(req)
		if err != nil {
			return "", "", time.Time{}, fmt.Errorf("refresh request: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return "", "", time.Time{}, fmt.Errorf("refresh failed, status %d: %s", resp.StatusCode, string(body))
		}

		var wire struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int64  `json:"expires_in"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return "", "", time.Time{}, fmt.Errorf("parse refresh response: %w", err)
		}

		return wire.AccessToken, wire.RefreshToken, time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second), nil
	}
}
