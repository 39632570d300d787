// Package payment builds, simulates and submits the two-transfer payment
// that funds a deployment.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanarpc"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

// Ledger is the read side of the network the builder and the executor use.
// *solanarpc.Client implements it.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solanarpc.LatestBlockhash, error)
	SimulateTransaction(ctx context.Context, tx []byte) (solanarpc.SimulationResult, error)
}

// Confirmer observes a submitted signature. *solanarpc.Client implements it.
type Confirmer interface {
	SignatureStatuses(ctx context.Context, signatures []string) ([]*solanarpc.SignatureStatus, error)
	BlockHeight(ctx context.Context) (uint64, error)
}

// Wallet signs an intent's message and broadcasts it, returning the
// transaction signature. Declining must return an error wrapping
// ErrUserRejected.
type Wallet interface {
	PublicKey() solana.Pubkey
	SignAndSend(ctx context.Context, intent *Intent) (string, error)
}

var ErrUserRejected = errors.New("user rejected the request")

const simulatedPrefix = "simulated-"

func newSimulatedSignature() string {
	return simulatedPrefix + uuid.NewString()
}

// IsSimulatedSignature reports whether sig was synthesized by the fallback
// path rather than returned by the network.
func IsSimulatedSignature(sig string) bool {
	return strings.HasPrefix(sig, simulatedPrefix)
}

type Transfer struct {
	To       solana.Pubkey
	Lamports uint64
}

// Intent is a compiled, not yet signed payment. It is valid until the network
// passes LastValidBlockHeight.
type Intent struct {
	FeePayer             solana.Pubkey
	Blockhash            solana.Blockhash
	LastValidBlockHeight uint64
	RewardPool           Transfer
	PlatformPool         Transfer
	Cost                 protocol.CostBreakdown
	Message              solana.Message
	Instructions         []solana.Instruction
	SimulationLogs       []string
}

func (i *Intent) Total() uint64 {
	return i.RewardPool.Lamports + i.PlatformPool.Lamports
}

// UnsignedTransaction is the wire transaction with empty signature slots.
func (i *Intent) UnsignedTransaction() []byte {
	return solana.UnsignedTransaction(i.Message)
}

// Validate checks the intent is structurally submittable.
func (i *Intent) Validate() error {
	switch {
	case i == nil:
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent is nil")
	case i.FeePayer.IsZero():
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent has no fee payer")
	case i.Blockhash.IsZero():
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent has no recent blockhash")
	case len(i.Instructions) == 0:
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent has no instructions")
	case len(i.Message.Raw) == 0:
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent is not compiled")
	}

	parsed, err := solana.ParseLegacyTransaction(i.UnsignedTransaction())
	if err != nil {
		return deployerr.Wrap(deployerr.KindMalformedIntent, "payment intent does not decode", err)
	}
	if parsed.FeePayer() != i.FeePayer {
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent fee payer mismatch")
	}
	if parsed.RecentBlockhash != i.Blockhash {
		return deployerr.New(deployerr.KindMalformedIntent, "payment intent blockhash mismatch")
	}
	var sum uint64
	for _, t := range parsed.Transfers() {
		sum += t.Lamports
	}
	if sum != i.Cost.TotalPayment {
		return deployerr.New(deployerr.KindMalformedIntent,
			fmt.Sprintf("payment intent transfers %d lamports, expected %d", sum, i.Cost.TotalPayment))
	}
	return nil
}

// simulate dry-runs the intent. Any program error is a SimulationFailed
// carrying the node's log lines.
func simulate(ctx context.Context, ledger Ledger, intent *Intent) ([]string, error) {
	res, err := ledger.SimulateTransaction(ctx, intent.UnsignedTransaction())
	if err != nil {
		var rpcErr *solanarpc.RPCError
		if errors.As(err, &rpcErr) {
			return nil, &deployerr.Error{
				Kind:    deployerr.KindNetwork,
				Message: "simulation request failed",
				Logs:    rpcErr.Logs(),
				Cause:   err,
			}
		}
		return nil, deployerr.Wrap(deployerr.KindNetwork, "simulation request failed", err)
	}
	if res.Failed() {
		return res.Logs, &deployerr.Error{
			Kind:    deployerr.KindSimulationFailed,
			Message: "payment simulation failed",
			Detail:  string(res.Err),
			Logs:    res.Logs,
		}
	}
	return res.Logs, nil
}
