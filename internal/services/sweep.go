package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

const (
	DefaultSweepLimit    = 1000
	DefaultSweepPageSize = 100
)

// TransactionSource reads confirmed history for an address.
type TransactionSource interface {
	SignaturesForAddress(ctx context.Context, address solana.PublicKey, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error)
	Transaction(ctx context.Context, sig solana.Signature) (*ChainTransaction, error)
}

type SweepOptions struct {
	// MinSlot stops paging once older signatures are reached.
	MinSlot   uint64
	Limit     int
	PageSize  int
	PageDelay time.Duration
}

// SweepReport summarizes one wallet sweep.
type SweepReport struct {
	Wallet string
	// Scanned counts signatures examined; Skipped those failed on chain or unreadable.
	Scanned   int
	Skipped   int
	Events    int
	Reconcile ReconcileReport
}

// Sweeper replays a wallet's on-chain history through the Reconciler. It
// recovers events whose webhook delivery was lost; already recorded legs come
// back as already_settled.
type Sweeper struct {
	source     TransactionSource
	registry   *TokenRegistry
	reconciler *Reconciler
	log        *utils.Logger
}

func NewSweeper(source TransactionSource, registry *TokenRegistry, reconciler *Reconciler, log *utils.Logger) *Sweeper {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Sweeper{source: source, registry: registry, reconciler: reconciler, log: log}
}

// Sweep 从新到旧分页扫描地址的交易，直到 MinSlot 或 Limit
func (s *Sweeper) Sweep(ctx context.Context, wallet string, opts SweepOptions) (*SweepReport, error) {
	addr, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet %q: %v", ErrInvalidRequest, wallet, err)
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSweepLimit
	}
	if opts.PageSize <= 0 || opts.PageSize > 1000 {
		opts.PageSize = DefaultSweepPageSize
	}

	report := &SweepReport{Wallet: wallet}
	var before solana.Signature
	for report.Scanned < opts.Limit {
		size := opts.PageSize
		if rest := opts.Limit - report.Scanned; rest < size {
			size = rest
		}
		sigs, err := s.source.SignaturesForAddress(ctx, addr, before, size)
		if err != nil {
			return report, err
		}
		if len(sigs) == 0 {
			break
		}

		var (
			batch   []models.TransferEvent
			reached bool
		)
		for _, info := range sigs {
			// 签名按从新到旧返回，低于起始槽位即可停止
			if info.Slot < opts.MinSlot {
				reached = true
				break
			}
			report.Scanned++
			if info.Err != nil {
				report.Skipped++
				continue
			}
			tx, err := s.source.Transaction(ctx, info.Signature)
			if err != nil {
				s.log.Warn("sweep: transaction unreadable", "signature", info.Signature.String(), "err", err)
				report.Skipped++
				continue
			}
			evs, err := s.Transfers(tx, addr)
			if err != nil {
				s.log.Warn("sweep: decode failure", "signature", info.Signature.String(), "err", err)
				report.Skipped++
				continue
			}
			batch = append(batch, evs...)
		}

		if len(batch) > 0 {
			rep := s.reconciler.Reconcile(ctx, batch)
			report.Events += len(batch)
			report.Reconcile.Results = append(report.Reconcile.Results, rep.Results...)
		}
		if reached || len(sigs) < size {
			break
		}
		before = sigs[len(sigs)-1].Signature

		if opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(opts.PageDelay):
			}
		}
	}

	s.log.Info("sweep finished",
		"wallet", wallet,
		"scanned", report.Scanned,
		"skipped", report.Skipped,
		"events", report.Events,
		"processed", report.Reconcile.Processed(),
		"failed", report.Reconcile.Failed())
	return report, nil
}

type sweepSnapshot struct {
	Source    string   `json:"source"`
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	Fee       uint64   `json:"fee"`
	Logs      []string `json:"logMessages,omitempty"`
}

// Transfers derives the transfers touching wallet from balance changes.
// Incoming value is attributed to the account that lost the most of the same
// asset (the fee payer when none did); outgoing value yields one event per
// receiving account. Token accounts are excluded from the lamport pass so
// rent for newly created accounts is not read as a payment.
func (s *Sweeper) Transfers(tx *ChainTransaction, wallet solana.PublicKey) ([]models.TransferEvent, error) {
	meta := tx.Meta
	if meta == nil {
		return nil, fmt.Errorf("%w: missing transaction meta", ErrDecodeFailure)
	}
	if meta.Err != nil {
		return nil, nil
	}
	if len(tx.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: no account keys", ErrDecodeFailure)
	}

	deltas, err := s.balanceDeltas(tx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(sweepSnapshot{
		Source:    "rpc",
		Signature: tx.Signature.String(),
		Slot:      tx.Slot,
		Fee:       meta.Fee,
		Logs:      meta.LogMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	base := models.TransferEvent{
		Signature:  tx.Signature.String(),
		Slot:       tx.Slot,
		BlockTime:  tx.BlockTime,
		NetworkFee: meta.Fee,
		Memo:       MemoFromLogs(meta.LogMessages),
		Raw:        raw,
	}

	var events []models.TransferEvent
	for _, tok := range models.AllTokens() {
		byOwner := deltas[tok]
		own := byOwner[wallet]
		switch {
		case own > 0:
			from := tx.AccountKeys[0]
			if sender, ok := largest(byOwner, -1); ok {
				from = sender
			}
			ev := base
			ev.Token = tok
			ev.FromAddress = from.String()
			ev.ToAddress = wallet.String()
			ev.Amount = uint64(own)
			events = append(events, ev)
		case own < 0:
			for _, to := range sortedKeys(byOwner) {
				if d := byOwner[to]; d > 0 && !to.Equals(wallet) {
					ev := base
					ev.Token = tok
					ev.FromAddress = wallet.String()
					ev.ToAddress = to.String()
					ev.Amount = uint64(d)
					events = append(events, ev)
				}
			}
		}
	}
	return events, nil
}

func (s *Sweeper) balanceDeltas(tx *ChainTransaction) (map[models.Token]map[solana.PublicKey]int64, error) {
	meta := tx.Meta
	deltas := make(map[models.Token]map[solana.PublicKey]int64)
	add := func(tok models.Token, owner solana.PublicKey, d int64) {
		if deltas[tok] == nil {
			deltas[tok] = make(map[solana.PublicKey]int64)
		}
		deltas[tok][owner] += d
	}

	tokenAccounts := make(map[uint16]bool)
	type tokenSide struct {
		owner solana.PublicKey
		token models.Token
		pre   int64
		post  int64
	}
	sides := make(map[uint16]*tokenSide)
	collect := func(balances []rpc.TokenBalance, post bool) error {
		for _, b := range balances {
			tokenAccounts[b.AccountIndex] = true
			tok, ok := s.registry.TokenForMint(b.Mint.String())
			if !ok || b.Owner == nil || b.UiTokenAmount == nil {
				continue
			}
			amount, err := rawAmount(b.UiTokenAmount.Amount)
			if err != nil {
				return err
			}
			side, ok := sides[b.AccountIndex]
			if !ok {
				side = &tokenSide{owner: *b.Owner, token: tok}
				sides[b.AccountIndex] = side
			}
			if post {
				side.post = amount
			} else {
				side.pre = amount
			}
		}
		return nil
	}
	if err := collect(meta.PreTokenBalances, false); err != nil {
		return nil, err
	}
	if err := collect(meta.PostTokenBalances, true); err != nil {
		return nil, err
	}
	for _, side := range sides {
		if d := side.post - side.pre; d != 0 {
			add(side.token, side.owner, d)
		}
	}

	for i, key := range tx.AccountKeys {
		if i >= len(meta.PreBalances) || i >= len(meta.PostBalances) || tokenAccounts[uint16(i)] {
			continue
		}
		if meta.PreBalances[i] > math.MaxInt64 || meta.PostBalances[i] > math.MaxInt64 {
			return nil, fmt.Errorf("%w: lamport balance out of range", ErrDecodeFailure)
		}
		d := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if i == 0 {
			// 手续费不算转账
			d += int64(meta.Fee)
		}
		if d != 0 {
			add(models.TokenSOL, key, d)
		}
	}
	return deltas, nil
}

func rawAmount(s string) (int64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: token amount %q", ErrDecodeFailure, s)
	}
	return int64(v), nil
}

// largest returns the owner with the biggest change in direction sign (1 gain, -1 loss).
func largest(byOwner map[solana.PublicKey]int64, sign int64) (solana.PublicKey, bool) {
	var (
		best  solana.PublicKey
		bestV int64
		found bool
	)
	for _, k := range sortedKeys(byOwner) {
		v := byOwner[k] * sign
		if v > 0 && v > bestV {
			best, bestV, found = k, v, true
		}
	}
	return best, found
}

func sortedKeys(m map[solana.PublicKey]int64) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// MemoFromLogs 从程序日志解析 memo，格式：Program log: Memo (len 5): "inv-1"
func MemoFromLogs(logs []string) string {
	for _, line := range logs {
		i := strings.Index(line, "Memo (len ")
		if i < 0 {
			continue
		}
		rest := line[i:]
		j := strings.Index(rest, "): ")
		if j < 0 {
			continue
		}
		body := strings.TrimSpace(rest[j+3:])
		if unq, err := strconv.Unquote(body); err == nil {
			body = unq
		} else {
			body = strings.Trim(body, `"`)
		}
		if body = strings.TrimSpace(body); body != "" {
			return body
		}
	}
	return ""
}
