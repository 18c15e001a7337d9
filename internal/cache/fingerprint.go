// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/xecgo/xec/pkg/xec"
)

// Fingerprint derives the default cache key for cmd targeting adapter: a
// hash over adapter, host/container identity, program, args, a hash of
// stdin bytes, the env (since env affects output), and cwd. identity is the
// adapter-specific address (host, container name, or pod name); pass "" when
// not applicable.
func Fingerprint(adapter xec.AdapterKind, identity string, cmd *xec.Command) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	write(string(adapter))
	write(identity)
	write(cmd.Program)
	write(strings.Join(cmd.Args, "\x1f"))
	write(cmd.ShellLine)
	write(cmd.Cwd)
	write(strconv.Itoa(len(cmd.StdinBytes)))
	h.Write(cmd.StdinBytes)
	h.Write([]byte{0})

	for _, k := range cmd.Env.Keys() {
		v, _ := cmd.Env.Get(k)
		write(k + "=" + v)
	}

	return hex.EncodeToString(h.Sum(nil))
}
