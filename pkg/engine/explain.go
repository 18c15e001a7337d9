// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"errors"
	"fmt"

	"github.com/xecgo/xec/internal/issue"
	"github.com/xecgo/xec/pkg/xec"
)

// Explain turns an error returned by Run/Wait into a user-facing message
// with actionable suggestions, tailored to the concrete closed-taxonomy
// error type underneath. Callers building a CLI or TUI on top of the engine
// can use this instead of printing err.Error() verbatim; everything else can
// keep using errors.As against the xec error types directly.
func Explain(err error) string {
	if err == nil {
		return ""
	}

	ctx := issue.NewErrorContext()

	var unavailable *xec.AdapterUnavailableError
	var connection *xec.ConnectionError
	var auth *xec.AuthenticationError
	var timeout *xec.TimeoutError
	var cancelled *xec.CancellationError
	var failure *xec.CommandFailureError
	var decoder *xec.DecoderError
	var transfer *xec.TransferError
	var tunnel *xec.TunnelError
	var portForward *xec.PortForwardError
	var exhausted *xec.ResourceExhaustedError

	switch {
	case errors.As(err, &unavailable):
		ctx = ctx.WithOperation("reach the " + string(unavailable.Adapter) + " adapter").
			WithResource(unavailable.Reason).
			WithSuggestion("Check that the required binary or transport is installed and on PATH").
			Wrap(err)

	case errors.As(err, &connection):
		ctx = ctx.WithOperation("connect").
			WithResource(connection.Host).
			WithSuggestion("Check network reachability and that the remote service is running").
			Wrap(err)

	case errors.As(err, &auth):
		ctx = ctx.WithOperation("authenticate").
			WithResource(auth.Host).
			WithSuggestion("Check the configured credentials (SSH key, password, or agent) for this host").
			Wrap(err)

	case errors.As(err, &timeout):
		ctx = ctx.WithOperation("run command").
			WithResource(timeout.Command).
			WithSuggestion(fmt.Sprintf("The command exceeded its %s timeout; raise Command.Timeout if this is expected to run longer", timeout.Timeout)).
			Wrap(err)

	case errors.As(err, &cancelled):
		ctx = ctx.WithOperation("run command").
			WithResource(cancelled.Command).
			WithSuggestion("The command was cancelled before it finished; this is expected if a cancel handle or context was triggered").
			Wrap(err)

	case errors.As(err, &failure):
		ctx = ctx.WithOperation("run command").
			WithResource(failure.Result.Command).
			WithSuggestion("Inspect the command's stderr for the underlying cause, or set Command.Nothrow to handle a non-zero exit without an error").
			Wrap(err)

	case errors.As(err, &decoder):
		ctx = ctx.WithOperation(decoder.Decoder + " decode").
			WithSuggestion("The command's stdout did not match the shape requested by Text/Lines/JSON; check what the command actually printed").
			Wrap(err)

	case errors.As(err, &transfer):
		ctx = ctx.WithOperation(transfer.Direction + " transfer").
			WithResource(transfer.Source + " -> " + transfer.Destination).
			WithSuggestion("Check that both paths exist and are accessible with the current permissions").
			Wrap(err)

	case errors.As(err, &tunnel):
		ctx = ctx.WithOperation("open tunnel").
			WithResource(fmt.Sprintf("%s:%d", tunnel.RemoteHost, tunnel.RemotePort)).
			WithSuggestion("Check that the local port is free and the remote host/port is reachable from the far end of the connection").
			Wrap(err)

	case errors.As(err, &portForward):
		ctx = ctx.WithOperation("port-forward").
			WithResource(fmt.Sprintf("pod %s:%d", portForward.Pod, portForward.RemotePort)).
			WithSuggestion("Check that the pod is running and the target port is listening").
			Wrap(err)

	case errors.As(err, &exhausted):
		ctx = ctx.WithOperation("acquire " + exhausted.Resource).
			WithSuggestion(fmt.Sprintf("The pool's limit of %d was reached before acquire-timeout elapsed; raise the pool size or acquire timeout, or reduce concurrent usage", exhausted.Limit)).
			Wrap(err)

	default:
		ctx = ctx.WithOperation("run command").Wrap(err)
	}

	return ctx.Build().Format(false)
}
