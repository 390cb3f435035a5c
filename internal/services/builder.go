package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"BlinkPay/internal/metrics"
	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

var (
	tokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	ataProgramID   = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// TransferLeg is one payee of a split payment.
type TransferLeg struct {
	Destination solana.PublicKey
	Amount      uint64
}

// TransferLegBuilder emits the instructions moving one leg from payer to
// leg.Destination. Variants: native lamports and fungible tokens.
type TransferLegBuilder interface {
	Token() models.Token
	Instructions(ctx context.Context, payer solana.PublicKey, leg TransferLeg) ([]solana.Instruction, error)
}

// nativeLegBuilder 原生 SOL 转账
type nativeLegBuilder struct{}

func (nativeLegBuilder) Token() models.Token { return models.TokenSOL }

func (nativeLegBuilder) Instructions(_ context.Context, payer solana.PublicKey, leg TransferLeg) ([]solana.Instruction, error) {
	return []solana.Instruction{
		system.NewTransferInstruction(leg.Amount, payer, leg.Destination).Build(),
	}, nil
}

// tokenLegBuilder SPL token 转账，必要时先创建收款人的关联账户
type tokenLegBuilder struct {
	token    models.Token
	mint     solana.PublicKey
	accounts AccountChecker
	log      *utils.Logger
}

func (b *tokenLegBuilder) Token() models.Token { return b.token }

func (b *tokenLegBuilder) Instructions(ctx context.Context, payer solana.PublicKey, leg TransferLeg) ([]solana.Instruction, error) {
	source, _, err := solana.FindAssociatedTokenAddress(payer, b.mint)
	if err != nil {
		return nil, fmt.Errorf("derive payer token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(leg.Destination, b.mint)
	if err != nil {
		return nil, fmt.Errorf("derive destination token account: %w", err)
	}

	var out []solana.Instruction
	if !b.destinationExists(ctx, dest) {
		out = append(out, buildCreateIdempotentATAInstruction(payer, dest, leg.Destination, b.mint))
	}
	out = append(out, buildTransferCheckedInstruction(source, b.mint, dest, payer, leg.Amount, uint8(b.token.Decimals())))
	return out, nil
}

// destinationExists treats a failed lookup as absent; the create
// instruction is idempotent so emitting it is always safe.
func (b *tokenLegBuilder) destinationExists(ctx context.Context, ata solana.PublicKey) bool {
	if b.accounts == nil {
		return false
	}
	exists, err := b.accounts.AccountExists(ctx, ata)
	if err != nil {
		b.log.Warn("token account lookup failed", "account", ata.String(), "err", err)
		return false
	}
	return exists
}

// buildCreateIdempotentATAInstruction 关联账户程序 CreateIdempotent（discriminator 1）
func buildCreateIdempotentATAInstruction(payer, ata, owner, mint solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: tokenProgramID, IsSigner: false, IsWritable: false},
	}
	return solana.NewInstruction(ataProgramID, accounts, []byte{1})
}

// buildTransferCheckedInstruction Token Program TransferChecked 指令：
// discriminator 12 + amount (u64 LE) + decimals (u8)
func buildTransferCheckedInstruction(source, mint, dest, owner solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	data := make([]byte, 10)
	data[0] = 12
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	accounts := solana.AccountMetaSlice{
		{PublicKey: source, IsSigner: false, IsWritable: true},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: dest, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: true, IsWritable: false},
	}
	return solana.NewInstruction(tokenProgramID, accounts, data)
}

type BuilderConfig struct {
	PlatformWallet string
	// FeeRateBps applies to merchants without an override.
	FeeRateBps int64
	// PriorityFee in microlamports per compute unit; 0 disables compute-budget instructions.
	PriorityFee      uint64
	ComputeUnitLimit uint32
}

// BuildRequest asks for the payment transaction of one obligation.
type BuildRequest struct {
	Obligation models.Obligation
	Merchant   models.Merchant
	Payer      string
	// Amount is the payer-supplied gross for variable-amount obligations.
	Amount *uint64
}

// UnsignedTransaction is the ordered instruction list of a split payment.
// It is a value object; nothing about it is persisted.
type UnsignedTransaction struct {
	Payer        solana.PublicKey
	Token        models.Token
	Memo         string
	Split        models.SplitResult
	Instructions []solana.Instruction
	// Transfers counts value-moving instructions (legs actually emitted).
	Transfers int
}

// Transaction compiles the instructions with the payer as fee payer.
func (u *UnsignedTransaction) Transaction(blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(u.Instructions, blockhash, solana.TransactionPayer(u.Payer))
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

// Serialize returns the base64 wire form with empty signature slots.
func (u *UnsignedTransaction) Serialize(blockhash solana.Hash) (string, error) {
	tx, err := u.Transaction(blockhash)
	if err != nil {
		return "", err
	}
	return utils.EncodeBase64Tx(tx)
}

// Builder assembles split payment transactions for payers to sign.
type Builder struct {
	cfg      BuilderConfig
	platform solana.PublicKey
	legs     map[models.Token]TransferLegBuilder
	chain    Chain
	metrics  metrics.Recorder
	log      *utils.Logger
}

func NewBuilder(cfg BuilderConfig, registry *TokenRegistry, chain Chain, rec metrics.Recorder, log *utils.Logger) (*Builder, error) {
	if cfg.FeeRateBps < 0 || cfg.FeeRateBps > MaxFeeRateBps {
		return nil, fmt.Errorf("fee rate %d bps outside [0, %d]", cfg.FeeRateBps, MaxFeeRateBps)
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = DefaultComputeUnitLimit
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if log == nil {
		log = utils.NopLogger()
	}

	b := &Builder{
		cfg:     cfg,
		legs:    make(map[models.Token]TransferLegBuilder),
		chain:   chain,
		metrics: rec,
		log:     log,
	}
	if cfg.PlatformWallet != "" {
		pk, err := solana.PublicKeyFromBase58(cfg.PlatformWallet)
		if err != nil {
			return nil, fmt.Errorf("parse platform wallet: %w", err)
		}
		b.platform = pk
	}

	var accounts AccountChecker
	if chain != nil {
		accounts = chain
	}
	for _, tok := range models.AllTokens() {
		if tok.IsNative() {
			b.legs[tok] = nativeLegBuilder{}
			continue
		}
		mint, err := registry.Mint(tok)
		if err != nil {
			return nil, err
		}
		b.legs[tok] = &tokenLegBuilder{token: tok, mint: mint, accounts: accounts, log: log}
	}
	return b, nil
}

// Build resolves the gross amount, splits it and emits, in order: optional
// compute-budget instructions, the merchant leg, the platform leg and the
// memo. Zero-amount legs are omitted.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*UnsignedTransaction, error) {
	start := time.Now()
	defer func() { b.metrics.ObserveLatency(metrics.OpBuildTx, time.Since(start), nil) }()

	o := req.Obligation
	leg, ok := b.legs[o.Token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, o.Token)
	}

	gross, err := resolveGross(o, req.Amount)
	if err != nil {
		return nil, err
	}

	if req.Merchant.WalletAddress == "" {
		return nil, fmt.Errorf("%w: merchant has no destination address", ErrInvalidRequest)
	}
	merchantWallet, err := solana.PublicKeyFromBase58(req.Merchant.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: merchant destination address: %v", ErrInvalidRequest, err)
	}
	payer, err := solana.PublicKeyFromBase58(req.Payer)
	if err != nil {
		return nil, fmt.Errorf("%w: payer account: %v", ErrInvalidRequest, err)
	}

	rate := b.cfg.FeeRateBps
	if req.Merchant.FeeRateBps != nil {
		rate = *req.Merchant.FeeRateBps
	}
	split, err := Split(gross, rate)
	if err != nil {
		return nil, err
	}
	if split.PlatformAmount > 0 && b.platform.Equals(solana.PublicKey{}) {
		return nil, errors.New("platform wallet is not configured")
	}

	var instrs []solana.Instruction
	if b.cfg.PriorityFee > 0 {
		instrs = append(instrs,
			buildComputeUnitLimitInstruction(b.cfg.ComputeUnitLimit),
			buildComputeUnitPriceInstruction(b.cfg.PriorityFee),
		)
	}

	transfers := 0
	for _, l := range []TransferLeg{
		{Destination: merchantWallet, Amount: split.MerchantAmount},
		{Destination: b.platform, Amount: split.PlatformAmount},
	} {
		if l.Amount == 0 {
			continue
		}
		out, err := leg.Instructions(ctx, payer, l)
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, out...)
		transfers++
	}

	memo := o.ReferenceMemo()
	instrs = append(instrs, buildMemoInstruction(memo))

	b.metrics.IncCounter(metrics.EventTxBuilt, map[string]string{"token": o.Token.String()})
	b.log.Debug("built payment transaction",
		"obligation", o.ID, "token", o.Token.String(), "gross", gross,
		"merchant_amount", split.MerchantAmount, "platform_amount", split.PlatformAmount)

	return &UnsignedTransaction{
		Payer:        payer,
		Token:        o.Token,
		Memo:         memo,
		Split:        split,
		Instructions: instrs,
		Transfers:    transfers,
	}, nil
}

// BuildSerialized builds and serializes against the latest blockhash.
func (b *Builder) BuildSerialized(ctx context.Context, req BuildRequest) (string, *UnsignedTransaction, error) {
	if b.chain == nil {
		return "", nil, errors.New("no chain client configured")
	}
	utx, err := b.Build(ctx, req)
	if err != nil {
		return "", nil, err
	}
	bh, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return "", nil, err
	}
	enc, err := utx.Serialize(bh)
	if err != nil {
		return "", nil, err
	}
	return enc, utx, nil
}

func resolveGross(o models.Obligation, supplied *uint64) (uint64, error) {
	if o.ExpectedAmount != nil {
		if *o.ExpectedAmount == 0 {
			return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
		return *o.ExpectedAmount, nil
	}
	if supplied == nil {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidRequest)
	}
	if *supplied == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return *supplied, nil
}
