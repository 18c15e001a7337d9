// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestTunnel_OpenAssignsPort(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	tun := NewTunnel(nil, client, "127.0.0.1", 0, "127.0.0.1", 9)
	if err := tun.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tun.Close()

	if tun.LocalPort == 0 {
		t.Fatal("expected an OS-assigned local port to be recorded")
	}
	if !tun.IsOpen() {
		t.Fatal("tunnel should report open after Open")
	}
}

func TestTunnel_CloseStopsAccepting(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	tun := NewTunnel(nil, client, "127.0.0.1", 0, "127.0.0.1", 9)
	if err := tun.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := tun.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tun.IsOpen() {
		t.Fatal("tunnel should report closed after Close")
	}

	addr := net.JoinHostPort(tun.LocalHost, portString(tun.LocalPort))
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Fatal("expected dial to closed tunnel listener to fail")
	}
}

func TestTunnel_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	tun := NewTunnel(nil, client, "127.0.0.1", 0, "127.0.0.1", 9)
	if err := tun.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tun.Close(); err != nil {
		t.Fatalf("Close 1: %v", err)
	}
	if err := tun.Close(); err != nil {
		t.Fatalf("Close 2 should be a no-op, got: %v", err)
	}
}

// TestTunnel_RelayFailsWithoutRemoteListener confirms a connection through
// the tunnel is closed promptly when the SSH-side dial to the remote
// address fails, rather than hanging.
func TestTunnel_RelayFailsWithoutRemoteListener(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	tun := NewTunnel(nil, client, "127.0.0.1", 0, "127.0.0.1", 9)
	if err := tun.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tun.Close()

	addr := net.JoinHostPort(tun.LocalHost, portString(tun.LocalPort))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial local tunnel endpoint: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	r := bufio.NewReader(conn)
	_, err = r.ReadByte()
	if err == nil {
		t.Fatal("expected the relay to close the local side once the remote dial fails")
	}
}
