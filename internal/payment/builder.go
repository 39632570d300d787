package payment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SaitamaCoderVN/d2d-front-end-sub000/internal/deployerr"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/pools"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solana"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/offchain/solanafees"
	"github.com/SaitamaCoderVN/d2d-front-end-sub000/protocol"
)

// DefaultComputeUnitLimit covers the compute budget and two system
// transfers with headroom.
const DefaultComputeUnitLimit uint32 = 10_000

type BuilderConfig struct {
	Logger    *slog.Logger
	Ledger    Ledger
	ProgramID solana.Pubkey

	// MicroLamportsPerCU above zero prepends compute budget instructions
	// bidding that priority fee. ComputeUnitLimit defaults to
	// DefaultComputeUnitLimit.
	MicroLamportsPerCU uint64
	ComputeUnitLimit   uint32
}

func (cfg *BuilderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	return nil
}

type Builder struct {
	log   *slog.Logger
	cfg   BuilderConfig
	pools pools.Addresses
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addrs, err := pools.For(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	return &Builder{log: cfg.Logger, cfg: cfg, pools: addrs}, nil
}

func (b *Builder) Pools() pools.Addresses { return b.pools }

// FeeEstimate is the network fee a built intent pays: one signature plus the
// priority fee, if any.
func (b *Builder) FeeEstimate() (solanafees.TxFeeEstimate, error) {
	var limit uint32
	if b.cfg.MicroLamportsPerCU > 0 {
		limit = b.cfg.ComputeUnitLimit
	}
	return solanafees.FixedEstimate(0, 1, limit, b.cfg.MicroLamportsPerCU)
}

// Build turns a cost breakdown into a simulated, ready-to-sign intent. The
// blockhash is fetched here, immediately before compilation.
func (b *Builder) Build(ctx context.Context, payer solana.Pubkey, cost protocol.CostBreakdown) (*Intent, error) {
	if payer.IsZero() {
		return nil, deployerr.New(deployerr.KindMalformedIntent, "payer address is required")
	}
	if err := cost.Validate(); err != nil {
		return nil, deployerr.Wrap(deployerr.KindMalformedIntent, "invalid cost breakdown", err)
	}
	reward, err := cost.RewardPoolPayment()
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindMalformedIntent, "invalid cost breakdown", err)
	}
	platform := cost.PlatformPoolPayment()

	var ixs []solana.Instruction
	if b.cfg.MicroLamportsPerCU > 0 {
		ixs = append(ixs,
			solana.ComputeBudgetSetComputeUnitLimit(b.cfg.ComputeUnitLimit),
			solana.ComputeBudgetSetComputeUnitPrice(b.cfg.MicroLamportsPerCU),
		)
	}
	if reward > 0 {
		ixs = append(ixs, solana.SystemTransfer(payer, b.pools.RewardPool, reward))
	}
	if platform > 0 {
		ixs = append(ixs, solana.SystemTransfer(payer, b.pools.PlatformPool, platform))
	}

	latest, err := b.cfg.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindNetwork, "failed to fetch recent blockhash", err)
	}
	msg, err := solana.CompileLegacyMessage(latest.Blockhash, payer, ixs)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindMalformedIntent, "failed to compile payment", err)
	}

	intent := &Intent{
		FeePayer:             payer,
		Blockhash:            latest.Blockhash,
		LastValidBlockHeight: latest.LastValidBlockHeight,
		RewardPool:           Transfer{To: b.pools.RewardPool, Lamports: reward},
		PlatformPool:         Transfer{To: b.pools.PlatformPool, Lamports: platform},
		Cost:                 cost,
		Message:              msg,
		Instructions:         ixs,
	}

	logs, err := simulate(ctx, b.cfg.Ledger, intent)
	if err != nil {
		b.log.Warn("payment: simulation rejected intent", "payer", payer.Base58(), "error", err)
		return nil, err
	}
	intent.SimulationLogs = logs

	b.log.Debug("payment: built intent",
		"payer", payer.Base58(),
		"reward_pool_lamports", reward,
		"platform_pool_lamports", platform,
		"last_valid_block_height", latest.LastValidBlockHeight,
	)
	return intent, nil
}
