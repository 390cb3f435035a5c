package services

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"BlinkPay/utils"
)

var (
	computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	memoProgramID          = solana.MustPublicKeyFromBase58(MemoProgramV2)
)

// DefaultComputeUnitLimit covers two token legs with account creation plus a memo.
const DefaultComputeUnitLimit uint32 = 200000

// AccountChecker reports whether an on-chain account exists.
type AccountChecker interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
}

// Chain is the read-only RPC surface used when building transactions.
type Chain interface {
	AccountChecker
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// RPCChain implements Chain over a JSON-RPC endpoint.
type RPCChain struct {
	client *rpc.Client
}

func NewRPCChain(rpcURL string) (*RPCChain, error) {
	if rpcURL == "" {
		return nil, errors.New("solana.rpc_url is empty in config")
	}
	return &RPCChain{client: rpc.New(rpcURL)}, nil
}

// LatestBlockhash 获取最新 blockhash，Finalized 失败时退回 Confirmed
func (c *RPCChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	bh, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		bh, err = c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
		}
	}
	return bh.Value.Blockhash, nil
}

func (c *RPCChain) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get account %s: %w", account, err)
	}
	return true, nil
}

// Health is used by the readiness probe.
func (c *RPCChain) Health(ctx context.Context) error {
	_, err := c.client.GetHealth(ctx)
	return err
}

// ChainTransaction is a confirmed transaction with its account keys resolved.
type ChainTransaction struct {
	Signature   solana.Signature
	Slot        uint64
	BlockTime   time.Time
	AccountKeys solana.PublicKeySlice
	Meta        *rpc.TransactionMeta
}

// SignaturesForAddress 按从新到旧分页获取地址相关的交易签名
func (c *RPCChain) SignaturesForAddress(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	}
	if !before.IsZero() {
		opts.Before = before
	}
	sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}
	return sigs, nil
}

// Transaction 获取交易详情；v0 交易的查找表地址追加在静态账户之后
func (c *RPCChain) Transaction(ctx context.Context, sig solana.Signature) (*ChainTransaction, error) {
	maxVersion := uint64(0)
	res, err := c.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	if res == nil || res.Transaction == nil || res.Meta == nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, rpc.ErrNotFound)
	}
	tx, err := utils.DecodeTx(res.Transaction.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	keys := make(solana.PublicKeySlice, 0, len(tx.Message.AccountKeys)+len(res.Meta.LoadedAddresses.Writable)+len(res.Meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, res.Meta.LoadedAddresses.Writable...)
	keys = append(keys, res.Meta.LoadedAddresses.ReadOnly...)

	out := &ChainTransaction{
		Signature:   sig,
		Slot:        res.Slot,
		AccountKeys: keys,
		Meta:        res.Meta,
	}
	if res.BlockTime != nil {
		out.BlockTime = res.BlockTime.Time().UTC()
	}
	return out, nil
}

// buildComputeUnitLimitInstruction 构建设置计算单元限制的指令
func buildComputeUnitLimitInstruction(computeUnitLimit uint32) solana.Instruction {
	// - instruction discriminator: 2 (SetComputeUnitLimit)
	// - compute_unit_limit: 4 bytes (uint32, little-endian)
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:5], computeUnitLimit)

	return solana.NewInstruction(
		computeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// buildComputeUnitPriceInstruction 构建设置优先级费用的指令
// computeUnitPrice: microlamports per compute unit
func buildComputeUnitPriceInstruction(computeUnitPrice uint64) solana.Instruction {
	// - instruction discriminator: 3 (SetComputeUnitPrice)
	// - micro_lamports: 8 bytes (uint64, little-endian)
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], computeUnitPrice)

	return solana.NewInstruction(
		computeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// buildMemoInstruction carries the obligation reference in clear text.
func buildMemoInstruction(memo string) solana.Instruction {
	return solana.NewInstruction(
		memoProgramID,
		solana.AccountMetaSlice{},
		[]byte(memo),
	)
}
