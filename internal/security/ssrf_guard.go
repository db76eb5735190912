// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard はユーザーが指定した外部URLへのアクセスを制限する。
// プロフィール画像のURL取り込みで使用する。
type URLGuard interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// 接続先IPの検証はDNS解決後にsafeurlのDialerで行われる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はリクエスト送信前にURLを静的に検証する。
	ValidateURL(rawURL string) error
}

// ErrBlockedURL はセキュリティポリシーでアクセスが禁止されたURLを表す。
var ErrBlockedURL = errors.New("blocked url")

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes はアクセスを禁止するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIP 169.254.169.254 を含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

var blockedHostnames = []string{"localhost", "metadata.google.internal"}

// Guard はURLGuardの実装。
type Guard struct{}

// NewSSRFGuard はGuardを生成する。
func NewSSRFGuard() *Guard {
	return &Guard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// ポートは80と443のみ許可する。
func (g *Guard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はリクエスト送信前にURLを静的に検証する。
// DNS再バインディングはNewSafeClient側で防ぐため、ここでは名前解決しない。
func (g *Guard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme %q: %w", scheme, ErrBlockedURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("address %s: %w", addr, ErrBlockedURL)
		}
		return nil
	}

	if slices.Contains(blockedHostnames, strings.ToLower(host)) {
		return fmt.Errorf("host %s: %w", host, ErrBlockedURL)
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var _ URLGuard = (*Guard)(nil)
