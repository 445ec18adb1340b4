// Package dns resolves the Pairline server host, falling back to public
// resolvers when the system resolver fails (captive or broken local DNS).
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// publicDNS are queried concurrently when the system lookup fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// Resolver looks up a host with the system resolver first and then races
// the configured public servers.
type Resolver struct {
	// Servers overrides the public fallback list.
	Servers []string

	// system resolves through the local configuration.
	system func(ctx context.Context, host string) ([]string, error)
	// remote resolves through one specific DNS server.
	remote func(ctx context.Context, host, server string) ([]string, error)
}

// Default is the resolver used by Lookup and DialContext.
var Default = &Resolver{}

// Lookup resolves host with the Default resolver.
func Lookup(ctx context.Context, host string) (string, error) {
	return Default.Lookup(ctx, host)
}

// DialContext dials addr after resolving its host with the Default resolver.
// It has the signature expected by net/http and gorilla/websocket.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return Default.DialContext(ctx, network, addr)
}

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, localTimeout)
	ips, err := r.systemLookup(lctx, host)
	cancel()
	if err == nil && len(ips) > 0 {
		return preferIPv4(ips), nil
	}
	slog.Debug("system DNS lookup failed, racing public resolvers", "host", host, "error", err)

	return r.race(ctx, host)
}

// DialContext resolves the host part of addr and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	servers := r.Servers
	if len(servers) == 0 {
		servers = publicDNS
	}

	type result struct {
		ips []string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	results := make(chan result, len(servers))
	for _, server := range servers {
		go func() {
			ips, err := r.remoteLookup(ctx, host, server)
			results <- result{ips: ips, err: err}
		}()
	}

	failures := 0
	for range servers {
		select {
		case res := <-results:
			if res.err == nil && len(res.ips) > 0 {
				return preferIPv4(res.ips), nil
			}
			failures++
		case <-ctx.Done():
			return "", errors.New("DNS lookup timed out during public DNS race")
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

func (r *Resolver) systemLookup(ctx context.Context, host string) ([]string, error) {
	if r.system != nil {
		return r.system(ctx, host)
	}
	return net.DefaultResolver.LookupHost(ctx, host)
}

func (r *Resolver) remoteLookup(ctx context.Context, host, server string) ([]string, error) {
	if r.remote != nil {
		return r.remote(ctx, host, server)
	}
	res := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	return res.LookupHost(ctx, host)
}

func preferIPv4(ips []string) string {
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip
		}
	}
	return ips[0]
}

func trimBrackets(s string) string {
	if len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
