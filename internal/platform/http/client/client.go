// Package client builds the outbound HTTP client used for push delivery
// and ACME. Push endpoints are supplied by browsers, so the client refuses
// to dial private, loopback and link-local addresses unless allowed.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	ErrSSRFBlocked      = errors.New("request blocked by SSRF protection")
	ErrHostUnresolvable = errors.New("host could not be resolved")
)

// Resolver abstracts DNS resolution for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Options tunes the client. Zero values take defaults.
type Options struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// AllowPrivate disables the private address check (dev mode).
	AllowPrivate bool
	Resolver     Resolver
}

func (o *Options) applyDefaults() {
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
}

// New returns an *http.Client that never follows redirects, ignores proxy
// environment variables and checks every dialed address.
func New(opts Options) *http.Client {
	opts.applyDefaults()
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}

	transport := &http.Transport{
		Proxy: nil,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !opts.AllowPrivate {
				resolved, err := checkAddr(ctx, opts.Resolver, addr)
				if err != nil {
					return nil, err
				}
				addr = resolved
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// checkAddr validates host:port and returns the address to dial. Hostnames
// are pinned to the first vetted IP so a second lookup cannot rebind.
func checkAddr(ctx context.Context, resolver Resolver, addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	host = strings.Trim(host, "[]")

	switch strings.ToLower(host) {
	case "localhost", "localhost.localdomain":
		return "", fmt.Errorf("%w: localhost is blocked", ErrSSRFBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !IsAllowedIP(ip) {
			return "", fmt.Errorf("%w: IP %s is blocked", ErrSSRFBlocked, ip)
		}
		return addr, nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHostUnresolvable, host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrHostUnresolvable, host)
	}
	for _, a := range addrs {
		if !IsAllowedIP(a.IP) {
			return "", fmt.Errorf("%w: %s resolves to blocked IP %s", ErrSSRFBlocked, host, a.IP)
		}
	}
	return net.JoinHostPort(addrs[0].IP.String(), port), nil
}

// IsAllowedIP reports whether ip is a public unicast address.
func IsAllowedIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast())
}
