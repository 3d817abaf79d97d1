// Package security はFriend APIとの通信に関するセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は外向き通信で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は外向き通信でブロックされるネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック
		"127.0.0.0/8",
		// リンクローカル（クラウドメタデータIPを含む）
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// EgressGuard はFriend APIへの外向き通信を制限する。
// 有効な場合、ベースURLのポート以外への接続と内部ネットワーク宛ての接続を拒否する。
type EgressGuard struct {
	port int
}

// NewEgressGuard はベースURLを検証し、EgressGuardを生成する。
func NewEgressGuard(baseURL string) (*EgressGuard, error) {
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	parsed, _ := url.Parse(baseURL)
	port, err := portOf(parsed)
	if err != nil {
		return nil, err
	}
	return &EgressGuard{port: port}, nil
}

// NewClient はsafeurlで保護されたHTTPクライアントを生成する。
// DNS解決後のIPアドレスもDialer側で検証される。
func (g *EgressGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.port).
		Build()

	return safeurl.Client(config).Client
}

// NewHTTPClient はFriend API用のHTTPクライアントを返す。
// guardがtrueの場合はsafeurlで保護されたクライアント、falseの場合は通常のクライアントを返す。
func NewHTTPClient(baseURL string, timeout time.Duration, guard bool) (*http.Client, error) {
	if !guard {
		return &http.Client{Timeout: timeout}, nil
	}
	g, err := NewEgressGuard(baseURL)
	if err != nil {
		return nil, err
	}
	return g.NewClient(timeout), nil
}

// ValidateBaseURL はベースURLの安全性をDNS解決なしで検証する。
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func portOf(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("invalid port: %s", p)
		}
		return port, nil
	}
	if strings.EqualFold(u.Scheme, "https") {
		return 443, nil
	}
	return 80, nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
