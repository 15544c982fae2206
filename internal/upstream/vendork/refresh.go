package vendork

import (
	"context"
	"net/http"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
)

// systemManagedExtension is how far past "now" a no-op refresh extends an
// account's expiry, matching original_source's described behavior of
// treating system-managed tokens as valid for a fresh window rather than
// re-deriving an actual expiry from a response the backend doesn't return.
const systemManagedExtension = time.Hour

// NewRefreshFunc returns an account.RefreshFunc for Vendor-K's
// system-managed tokens. Per spec §4.3 ("K system-managed refresh is a
// no-op returning existing token with extended validity"), CodeWhisperer
// credentials don't expose a refresh_token grant the gateway can call
// directly; the backend renews them transparently, so the gateway simply
// trusts the current access token and pushes its expiry out so the Token
// Refresher doesn't immediately re-trigger.
func NewRefreshFunc() account.RefreshFunc {
	return func(ctx context.Context, httpClient *http.Client, acct *account.Account) (accessToken, refreshToken string, expiresAt time.Time, err error) {
		return acct.AccessToken, acct.RefreshToken, time.Now().Add(systemManagedExtension), nil
	}
}
