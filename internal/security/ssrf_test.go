package security

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":    true,
		"10.0.0.5":     true,
		"192.168.1.1":  true,
		"169.254.1.1":  true,
		"8.8.8.8":      false,
		"1.1.1.1":      false,
	}
	for addr, want := range cases {
		got := IsPrivateIP(net.ParseIP(addr))
		if got != want {
			t.Errorf("IsPrivateIP(%s) = %v, want %v", addr, got, want)
		}
	}
}

func TestGuardBlocksLoopbackByDefault(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	g := &Guard{}
	_, err := g.SafeDialContext(context.Background(), "tcp", srv.Listener.Addr().String())
	if err == nil {
		t.Fatal("expected SSRF block against loopback test server")
	}
}

func TestGuardAllowsWithAllowPrivate(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	g := &Guard{AllowPrivate: true}
	conn, err := g.SafeDialContext(context.Background(), "tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
	conn.Close()
}
