// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

func testHostSigner(t *testing.T) xssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := xssh.NewSignerFromSigner(priv)
	if err != nil {
		t.Fatalf("signer from key: %v", err)
	}
	return signer
}
