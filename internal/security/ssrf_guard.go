// Package security はSlack Web API・返信候補プロバイダへの外向き通信の保護と、
// 利用者入力の無害化を提供する。
package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge は外部APIのレスポンスがサイズ上限を超えた場合のエラー。
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// SSRFGuardService は外向き通信の保護機能のインターフェース。
type SSRFGuardService interface {
	// NewSafeClient は内部ネットワーク宛ての通信を拒否し、レスポンスサイズを制限するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL は設定されたAPIベースURLを起動時に静的検証する。
	ValidateURL(rawURL string) error
}

// blockedPrefixes はベースURLに指定できないアドレス範囲。
// 実行時の宛先はsafeurlがDNS解決後のIPで検証する。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータIP (169.254.169.254) を含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// blockedHostSuffixes はベースURLに指定できない内部向けホスト名。
var blockedHostSuffixes = []string{
	"localhost",
	".localhost",
	".internal",
	".local",
}

type ssrfGuard struct{}

// NewSSRFGuard はSSRFGuardServiceの新しいインスタンスを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient はHTTPS（443番ポート）のみを許可するHTTPクライアントを生成する。
// 接続先はsafeurlがDialerのControlフックでDNS解決後のIPを検証するため、
// プライベートIP・ループバック・メタデータIPへの通信とDNS再バインディングは拒否される。
// maxResponseSizeが正の場合、レスポンスボディがそれを超えるとErrResponseTooLargeで読み取りを打ち切る。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	client := safeurl.Client(config).Client
	if maxResponseSize > 0 {
		next := client.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		client.Transport = &limitedTransport{next: next, limit: maxResponseSize}
	}
	return client
}

// ValidateURL はURLがHTTPSで、内部ネットワークを指していないことをDNS解決なしで検証する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (https only)", parsed.Scheme)
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed port: %s", port)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if isBlockedHostname(host) {
		return fmt.Errorf("blocked host: %s", host)
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

func isBlockedHostname(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	for _, suffix := range blockedHostSuffixes {
		if lower == suffix || (strings.HasPrefix(suffix, ".") && strings.HasSuffix(lower, suffix)) {
			return true
		}
	}
	return false
}

// limitedTransport はレスポンスボディの読み取り量を制限するRoundTripper。
type limitedTransport struct {
	next  http.RoundTripper
	limit int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.limit {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w (%d > %d)", req.URL.Host, ErrResponseTooLarge, resp.ContentLength, t.limit)
	}
	resp.Body = &limitedBody{rc: resp.Body, remaining: t.limit}
	return resp, nil
}

// limitedBody は上限を超えて読もうとした時点でErrResponseTooLargeを返す。
type limitedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// 上限ちょうどで終わるボディは正常終了させる
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrResponseTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	return b.rc.Close()
}
