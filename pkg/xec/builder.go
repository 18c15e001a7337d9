// SPDX-License-Identifier: MPL-2.0

package xec

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Sh builds a Command's ShellLine from literal fragments and interpolated
// values, escaping each value for POSIX shell consumption with
// mvdan.cc/sh/v3/syntax.Quote. It stands in for a template-literal builder:
//
//	line := xec.Sh([]string{"rsync -az ", " ", ":", ""}, src, dst, remotePath)
//
// parts must have exactly len(values)+1 elements; the result interleaves
// them as parts[0] + quote(values[0]) + parts[1] + quote(values[1]) + ...
// + parts[len(values)].
func Sh(parts []string, values ...any) string {
	return build(parts, values, true)
}

// Raw builds a ShellLine the same way Sh does but without escaping
// interpolated values; callers are responsible for any quoting needed.
// The result is still a ShellLine, which adapters run through a shell
// whatever Command.Shell is set to, so the unescaped values are
// interpreted by that shell.
func Raw(parts []string, values ...any) string {
	return build(parts, values, false)
}

func build(parts []string, values []any, escape bool) string {
	if len(parts) != len(values)+1 {
		panic(fmt.Sprintf("xec: builder called with %d parts and %d values, want len(parts) == len(values)+1", len(parts), len(values)))
	}
	var b strings.Builder
	for i, v := range values {
		b.WriteString(parts[i])
		b.WriteString(renderValue(v, escape))
	}
	b.WriteString(parts[len(parts)-1])
	return b.String()
}

func renderValue(v any, escape bool) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprint(v)
	}
	if !escape {
		return s
	}
	return quote(s)
}

// quote escapes s for POSIX shell consumption.
func quote(s string) string {
	quoted, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		// s contains something syntax.Quote refuses (e.g. a NUL byte);
		// single-quote with embedded-quote escaping is always valid.
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return quoted
}
