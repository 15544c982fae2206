// Package account defines the upstream credential type shared by both
// vendor gateways and the TokenManager that refreshes it through a
// vendor-supplied RefreshFunc.
package account

import "time"

// Status is the external-owned lifecycle state of an Account.
type Status string

const (
	StatusNormal Status = "normal"
	StatusBanned Status = "banned"
	StatusError  Status = "error"
)

// Vendor identifies which upstream an Account authenticates against.
type Vendor string

const (
	VendorA Vendor = "vendor-a"
	VendorK Vendor = "vendor-k"
)

// Account is an external-owned upstream credential holder (spec §3). It is
// produced by the login flow (out of core scope), mutated on refresh, and
// otherwise consumed read-only by the gateway. An Account with an empty
// AccessToken or Status == StatusBanned is invisible to the Account Pool.
type Account struct {
	ID     string
	Vendor Vendor
	Email  string

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// ProfileID is Vendor-K's profile ARN, used to derive the upstream
	// region and to populate the request body's profileArn field.
	ProfileID string
	// MachineID is an optional Vendor-K identity-spoofing value appended to
	// social-login User-Agent strings.
	MachineID string
	// LoginProvider distinguishes IdC-provisioned Vendor-K accounts from
	// social-login ones; it selects which User-Agent family is sent.
	LoginProvider string

	// IsGCPToS selects Vendor-A's production host when true, the daily
	// (pre-release) host otherwise.
	IsGCPToS bool

	// Proxy routes this account's upstream traffic through an outbound
	// proxy instead of dialing direct; nil means direct.
	Proxy *ProxyConfig

	Status       Status
	ErrorMessage string

	CreatedAt     time.Time
	LastRefreshAt time.Time
}

// ProxyConfig describes an outbound proxy an Account's requests should be
// routed through (SOCKS5 or HTTP CONNECT).
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     int
	Username string
	Password string
}

// Usable reports whether the pool may ever select this account.
func (a *Account) Usable() bool {
	return a.AccessToken != "" && a.Status != StatusBanned
}

// NeedsRefresh reports whether the access token should be refreshed before
// use, given an advance window (spec §4.3 Token Refresher).
func (a *Account) NeedsRefresh(advance time.Duration, now time.Time) bool {
	return !a.ExpiresAt.After(now.Add(advance))
}
