package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// PublicDNS are servers queried when the system resolver fails.
var publicDNS = []string{
	"1.0.0.1",                // Cloudflare
	"1.1.1.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.4.4",                // Google
	"8.8.8.8",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.220.220",         // Cisco OpenDNS
	"208.67.222.222",         // Cisco OpenDNS
}

const (
	localTimeout  = 1 * time.Second
	remoteTimeout = 2 * time.Second
)

// Resolver looks up signaling hosts, racing public DNS servers when the
// local resolver cannot answer. The zero value is ready to use.
type Resolver struct {
	// Servers overrides the public fallback list.
	Servers []string
	// Local overrides the system resolver.
	Local interface {
		LookupHost(ctx context.Context, host string) ([]string, error)
	}
}

// Lookup resolves a hostname to a single IP address, preferring IPv4.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	ip, err := r.localLookup(ctx, host)
	if err == nil {
		return ip, nil
	}

	servers := r.Servers
	if servers == nil {
		servers = publicDNS
	}
	return raceLookup(ctx, host, servers)
}

// DialContext dials addr after resolving its host with Lookup. It matches
// the websocket.Dialer.NetDialContext signature.
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

func (r *Resolver) localLookup(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, localTimeout)
	defer cancel()

	var local interface {
		LookupHost(ctx context.Context, host string) ([]string, error)
	} = net.DefaultResolver
	if r.Local != nil {
		local = r.Local
	}

	ips, err := local.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func raceLookup(ctx context.Context, host string, servers []string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	results := make(chan result, len(servers))
	for _, server := range servers {
		go func(server string) {
			ip, err := lookupVia(ctx, host, server)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup timed out during public DNS race")
		}
	}

	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

func lookupVia(ctx context.Context, host, server string) (string, error) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return pickIP(ips)
}

func pickIP(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func trimBrackets(s string) string {
	if len(s) > 1 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
