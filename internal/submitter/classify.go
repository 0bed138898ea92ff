package submitter

import (
	"context"
	"errors"
	"strings"

	"github.com/gateway-fm/chainbench/internal/rpc"
	"github.com/gateway-fm/chainbench/pkg/types"
)

// Classify maps an endpoint error onto the failure taxonomy. The class
// drives both retry eligibility and diagnostic reporting; it never
// inspects error types beyond the RPC boundary's own.
func Classify(err error) types.ErrorClass {
	if err == nil {
		return types.ErrClassNone
	}

	// Cancellation reaches in-flight sends when a run drains; those tasks
	// are timed out, not rejected.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrClassTimeout
	}

	var httpErr *rpc.HTTPStatusError
	if errors.As(err, &httpErr) {
		if httpErr.IsRetryable() {
			return types.ErrClassTimeout // transient endpoint pressure
		}
		return types.ErrClassRejected
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "invalid nonce"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "invalid sequence"):
		return types.ErrClassSequenceConflict

	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "fee too low"),
		strings.Contains(msg, "max fee per gas less than block base fee"),
		strings.Contains(msg, "fee cap less than"):
		return types.ErrClassFeeTooLow

	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"):
		return types.ErrClassInsufficientFunds

	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "eof"):
		return types.ErrClassTimeout

	case strings.Contains(msg, "txpool is full"),
		strings.Contains(msg, "mempool is full"),
		strings.Contains(msg, "transaction pool is full"),
		strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "rejected"):
		return types.ErrClassRejected
	}

	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return types.ErrClassRejected
	}

	return types.ErrClassUnknown
}

// endpointFault reports whether the error indicates the endpoint itself is
// unhealthy, as opposed to an application-level rejection from a live node.
func endpointFault(class types.ErrorClass) bool {
	return class == types.ErrClassTimeout || class == types.ErrClassUnknown
}
