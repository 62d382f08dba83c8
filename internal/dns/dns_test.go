package dns

import (
	"context"
	"errors"
	"testing"
)

type staticResolver struct {
	ips []string
	err error
}

func (s staticResolver) LookupHost(context.Context, string) ([]string, error) {
	return s.ips, s.err
}

func TestLookupPrefersIPv4(t *testing.T) {
	r := &Resolver{Local: staticResolver{ips: []string{"2001:db8::1", "192.0.2.7"}}}

	ip, err := r.Lookup(context.Background(), "meet.example.com")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ip != "192.0.2.7" {
		t.Errorf("Expected IPv4 address, got %s", ip)
	}
}

func TestLookupLiteralIP(t *testing.T) {
	r := &Resolver{Local: staticResolver{err: errors.New("must not be called")}}

	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	if err != nil || ip != "127.0.0.1" {
		t.Fatalf("Expected literal passthrough, got %q %v", ip, err)
	}
}

func TestLookupFallbackExhausted(t *testing.T) {
	r := &Resolver{
		Local:   staticResolver{err: errors.New("no route")},
		Servers: []string{},
	}

	if _, err := r.Lookup(context.Background(), "meet.example.com"); err == nil {
		t.Fatal("Expected error with no fallback servers")
	}
}

func TestTrimBrackets(t *testing.T) {
	if got := trimBrackets("[2620:fe::fe]"); got != "2620:fe::fe" {
		t.Errorf("Unexpected %s", got)
	}
	if got := trimBrackets("8.8.8.8"); got != "8.8.8.8" {
		t.Errorf("Unexpected %s", got)
	}
}
