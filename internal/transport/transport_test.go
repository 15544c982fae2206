package transport

import (
	"testing"
	"time"

	"github.com/mira-ai/antigravity-gateway/internal/account"
	"github.com/mira-ai/antigravity-gateway/internal/config"
)

func newTestManager() *Manager {
	return NewManager(&config.Config{RequestTimeout: 30 * time.Second})
}

func TestGetClientReusesTransportForDirectAccounts(t *testing.T) {
	m := newTestManager()
	a1 := &account.Account{ID: "a1"}
	a2 := &account.Account{ID: "a2"}

	c1 := m.GetClient(a1)
	c2 := m.GetClient(a2)
	if c1.Transport != c2.Transport {
		t.Fatal("expected direct-dial accounts to share one pooled transport")
	}
}

func TestGetClientSeparatesDistinctProxies(t *testing.T) {
	m := newTestManager()
	a1 := &account.Account{ID: "a1", Proxy: &account.ProxyConfig{Type: "socks5", Host: "proxy1", Port: 1080}}
	a2 := &account.Account{ID: "a2", Proxy: &account.ProxyConfig{Type: "socks5", Host: "proxy2", Port: 1080}}

	c1 := m.GetClient(a1)
	c2 := m.GetClient(a2)
	if c1.Transport == c2.Transport {
		t.Fatal("expected distinct proxy configs to get distinct transports")
	}
}

func TestGetClientReusesTransportForSameProxy(t *testing.T) {
	m := newTestManager()
	proxy := &account.ProxyConfig{Type: "http", Host: "proxy1", Port: 8080}
	a1 := &account.Account{ID: "a1", Proxy: proxy}
	a2 := &account.Account{ID: "a2", Proxy: proxy}

	c1 := m.GetClient(a1)
	c2 := m.GetClient(a2)
	if c1.Transport != c2.Transport {
		t.Fatal("expected identical proxy configs to share one pooled transport")
	}
}

func TestGetHTTPTransportNilWithoutProxy(t *testing.T) {
	m := newTestManager()
	if rt := m.GetHTTPTransport(&account.Account{ID: "a1"}); rt != nil {
		t.Fatalf("expected nil transport for a direct account, got %+v", rt)
	}
}

func TestCloseClearsPooledEntries(t *testing.T) {
	m := newTestManager()
	m.GetClient(&account.Account{ID: "a1"})
	m.Close()
	if len(m.entries) != 0 {
		t.Fatalf("expected Close to clear pooled entries, got %d", len(m.entries))
	}
}
