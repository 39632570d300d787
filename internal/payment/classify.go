package payment

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
)

var (
	walletRejectionMarkers = []string{
		"user rejected",
		"rejected the request",
		"user denied",
		"user declined",
		"user canceled",
		"user cancelled",
		"transaction cancelled",
	}
	networkMarkers = []string{
		"failed to fetch",
		"network",
		"connection refused",
		"connection reset",
		"econnrefused",
		"rate limit",
		"too many requests",
		"429",
		"timeout",
		"no such host",
	}
	insufficientFundsMarkers = []string{
		"insufficient funds",
		"insufficient lamports",
		"insufficientfunds",
		"no record of a prior credit",
	}
	blockhashMarkers = []string{
		"blockhash not found",
		"blockhashnotfound",
		"block height exceeded",
		"blockhash expired",
		"transaction expired",
	}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Classify maps a submission failure onto the error taxonomy. Wallet
// rejection wins over everything else; then transport and RPC faults, then
// funds, then blockhash expiry.
//
// Preflight failures arrive as RPC error -32002 but describe the transaction,
// not the transport, so they are classified by their message.
func Classify(err error) deployerr.Kind {
	if err == nil {
		return deployerr.KindUnknown
	}
	if k := deployerr.KindOf(err); k != deployerr.KindUnknown {
		return k
	}
	msg := strings.ToLower(err.Error())

	if errors.Is(err, ErrUserRejected) || containsAny(msg, walletRejectionMarkers) {
		return deployerr.KindWalletRejection
	}

	var rpcErr *solanarpc.RPCError
	isRPC := errors.As(err, &rpcErr)
	if isRPC && rpcErr.Code != solanarpc.CodeBlockhashNotFound {
		return deployerr.KindNetwork
	}
	if !isRPC && isTransportError(err, msg) {
		return deployerr.KindNetwork
	}

	if containsAny(msg, insufficientFundsMarkers) {
		return deployerr.KindInsufficientFunds
	}
	if containsAny(msg, blockhashMarkers) {
		return deployerr.KindBlockhashExpired
	}
	if isRPC {
		return deployerr.KindSimulationFailed
	}
	return deployerr.KindUnknown
}

func isTransportError(err error, msg string) bool {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, solanarpc.ErrRPCError):
		return true
	}
	return containsAny(msg, networkMarkers)
}

func classified(kind deployerr.Kind, err error) *deployerr.Error {
	if de, ok := deployerr.As(err); ok {
		return de
	}
	out := &deployerr.Error{Kind: kind, Cause: err}
	var rpcErr *solanarpc.RPCError
	if errors.As(err, &rpcErr) {
		out.Logs = rpcErr.Logs()
	}
	switch kind {
	case deployerr.KindNetwork:
		out.Message = "payment submission failed: network or rpc error"
	case deployerr.KindInsufficientFunds:
		out.Message = "payment submission failed: insufficient funds"
	case deployerr.KindBlockhashExpired:
		out.Message = "payment submission failed: blockhash expired, rebuild the payment"
	case deployerr.KindWalletRejection:
		out.Message = "payment was rejected in the wallet"
	case deployerr.KindSimulationFailed:
		out.Message = "payment submission failed: preflight simulation rejected the transaction"
	default:
		out.Message = "payment submission failed"
	}
	return out
}
