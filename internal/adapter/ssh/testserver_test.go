// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"net"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

// newTestClient returns a *xssh.Client wired to an in-process SSH server
// over a net.Pipe, so pool and adapter tests exercise real client/server
// framing without a network listener. The server requires no client
// authentication and answers "exec" requests by writing "ok\n", sending
// exit status 0 and closing the channel, which is enough to exercise
// connection pooling and session
// lifecycle without a real shell.
func newTestClient(t *testing.T) *xssh.Client {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	signer := testHostSigner(t)
	serverConfig := &xssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	go func() {
		sconn, chans, reqs, err := xssh.NewServerConn(serverConn, serverConfig)
		if err != nil {
			return
		}
		go xssh.DiscardRequests(reqs)
		for newChan := range chans {
			if newChan.ChannelType() != "session" {
				newChan.Reject(xssh.UnknownChannelType, "unsupported channel type")
				continue
			}
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go serveSession(ch, requests)
		}
		sconn.Close()
	}()

	clientConfig := &xssh.ClientConfig{
		User:            "test",
		Auth:            []xssh.AuthMethod{xssh.Password("unused")},
		HostKeyCallback: xssh.InsecureIgnoreHostKey(),
	}
	sshConn, chans, reqs, err := xssh.NewClientConn(clientConn, "pipe", clientConfig)
	if err != nil {
		t.Fatalf("NewClientConn: %v", err)
	}
	return xssh.NewClient(sshConn, chans, reqs)
}

func serveSession(ch xssh.Channel, requests <-chan *xssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "exec":
			ch.Write([]byte("ok\n"))
			ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{0}))
			if req.WantReply {
				req.Reply(true, nil)
			}
			return
		case "pty-req", "shell", "env":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}
