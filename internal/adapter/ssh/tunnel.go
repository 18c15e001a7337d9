// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/pkg/xec"
)

// TunnelState is the lifecycle of a local port-forward: configured, open,
// or closed.
type TunnelState int

const (
	TunnelConfigured TunnelState = iota
	TunnelOpen
	TunnelClosed
)

// Tunnel is a local port-forward: a listener on (LocalHost, LocalPort) that
// relays each accepted connection through an SSH "direct-tcpip" channel to
// (RemoteHost, RemotePort). LocalPort == 0 at construction triggers
// OS-assigned port allocation; the actual bound port is recorded after
// Open.
type Tunnel struct {
	bus    *eventbus.Bus
	client *xssh.Client

	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int

	mu       sync.Mutex
	state    TunnelState
	listener net.Listener
	wg       sync.WaitGroup

	// onClose, if set, runs once during Close after the listener is torn
	// down. OpenTunnel uses it to release the pooled connection the tunnel
	// was built on.
	onClose func()
}

// NewTunnel constructs a Tunnel bound to client, not yet listening.
func NewTunnel(bus *eventbus.Bus, client *xssh.Client, localHost string, localPort int, remoteHost string, remotePort int) *Tunnel {
	return &Tunnel{
		bus: bus, client: client,
		LocalHost: localHost, LocalPort: localPort,
		RemoteHost: remoteHost, RemotePort: remotePort,
		state: TunnelConfigured,
	}
}

// Open binds the local listener and starts accepting connections in the
// background. It returns once the listener is bound, recording the actual
// port into LocalPort when 0 was requested.
func (t *Tunnel) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TunnelConfigured {
		return fmt.Errorf("tunnel: Open called in state %d", t.state)
	}

	addr := net.JoinHostPort(t.LocalHost, portString(t.LocalPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &xec.TunnelError{LocalPort: t.LocalPort, RemoteHost: t.RemoteHost, RemotePort: t.RemotePort, Cause: err}
	}
	t.listener = ln
	t.LocalPort = ln.Addr().(*net.TCPAddr).Port
	t.state = TunnelOpen

	t.publish(xec.EventSSHTunnelCreated, xec.Fields{
		"local_port": t.LocalPort, "remote_host": t.RemoteHost, "remote_port": t.RemotePort,
	})

	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			return // listener closed
		}
		t.wg.Add(1)
		go t.relay(local)
	}
}

func (t *Tunnel) relay(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", net.JoinHostPort(t.RemoteHost, portString(t.RemotePort)))
	if err != nil {
		t.publish(xec.EventConnectionClose, xec.Fields{"type": "ssh", "reason": "tunnel dial failed: " + err.Error()})
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(remote, local) }()
	go func() { defer wg.Done(); io.Copy(local, remote) }()
	wg.Wait()
}

// Close stops accepting new connections and unbinds the listener; in-flight
// relayed streams are left to drain (their sockets close naturally once one
// side closes).
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.state != TunnelOpen {
		t.mu.Unlock()
		return nil
	}
	t.state = TunnelClosed
	ln := t.listener
	t.mu.Unlock()

	err := ln.Close()
	t.publish(xec.EventSSHTunnelClosed, xec.Fields{"local_port": t.LocalPort})
	if t.onClose != nil {
		t.onClose()
	}
	return err
}

// IsOpen reports whether the tunnel is currently accepting connections.
func (t *Tunnel) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TunnelOpen
}

func portString(p int) string {
	return fmt.Sprintf("%d", p)
}

func (t *Tunnel) publish(name xec.EventName, fields xec.Fields) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterSSH, Host: t.RemoteHost, Fields: fields})
}
