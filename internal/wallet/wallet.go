// Package wallet is a file-backed signer that approves, signs and broadcasts
// payment intents.
package wallet

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/payment"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

// Sender broadcasts a signed wire transaction. *solanarpc.Client implements it.
type Sender interface {
	SendTransaction(ctx context.Context, tx []byte, skipPreflight bool) (string, error)
}

// Approver decides whether an intent may be signed. Returning false rejects
// the request.
type Approver func(ctx context.Context, intent *payment.Intent) (bool, error)

var ErrSignatureMismatch = errors.New("network returned a different signature")

type Config struct {
	Logger        *slog.Logger
	Sender        Sender
	Approve       Approver
	SkipPreflight bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Sender == nil {
		return errors.New("sender is required")
	}
	return nil
}

// Keypair is a payment.Wallet backed by an in-memory ed25519 key.
type Keypair struct {
	log  *slog.Logger
	cfg  Config
	priv ed25519.PrivateKey
	pub  solana.Pubkey
}

var _ payment.Wallet = (*Keypair)(nil)

func New(cfg Config, priv ed25519.PrivateKey) (*Keypair, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypairFile
	}
	var pub solana.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return &Keypair{log: cfg.Logger, cfg: cfg, priv: priv, pub: pub}, nil
}

// Open loads the keypair file at path and wraps it in a wallet.
func Open(cfg Config, path string) (*Keypair, error) {
	priv, _, err := LoadKeypair(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return New(cfg, priv)
}

func (k *Keypair) PublicKey() solana.Pubkey { return k.pub }

func (k *Keypair) SignAndSend(ctx context.Context, intent *payment.Intent) (string, error) {
	if intent == nil {
		return "", errors.New("nil intent")
	}
	if k.cfg.Approve != nil {
		ok, err := k.cfg.Approve(ctx, intent)
		if err != nil {
			return "", fmt.Errorf("%w: %v", payment.ErrUserRejected, err)
		}
		if !ok {
			return "", fmt.Errorf("%w: declined at prompt", payment.ErrUserRejected)
		}
	}

	sigs, err := solana.SignMessage(intent.Message, map[solana.Pubkey]ed25519.PrivateKey{k.pub: k.priv})
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	tx, err := solana.EncodeTransaction(intent.Message, sigs)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	want := sigs[0].Base58()
	k.log.Debug("wallet: sending payment", "signature", want, "lamports", intent.Total())
	got, err := k.cfg.Sender.SendTransaction(ctx, tx, k.cfg.SkipPreflight)
	if err != nil {
		return "", err
	}
	if _, err := solana.ParseSignature(got); err != nil {
		return "", fmt.Errorf("%w: %q", ErrSignatureMismatch, got)
	}
	if got != want {
		return "", fmt.Errorf("%w: sent %s, got %s", ErrSignatureMismatch, want, got)
	}
	return got, nil
}

// PromptApprover asks on out and reads a y/N answer from in. Anything other
// than y or yes declines.
func PromptApprover(in io.Reader, out io.Writer) Approver {
	r := bufio.NewReader(in)
	return func(ctx context.Context, intent *payment.Intent) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Payment from %s\n", intent.FeePayer)
		fmt.Fprintf(out, "  reward pool   %s  %s\n", intent.RewardPool.To, protocol.FormatSOL(intent.RewardPool.Lamports))
		fmt.Fprintf(out, "  platform pool %s  %s\n", intent.PlatformPool.To, protocol.FormatSOL(intent.PlatformPool.Lamports))
		fmt.Fprintf(out, "  total         %s\n", protocol.FormatSOL(intent.Total()))
		fmt.Fprint(out, "Approve? [y/N] ")

		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
