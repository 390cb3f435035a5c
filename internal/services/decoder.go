package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

// Memo program ids (v2 and the legacy v1).
const (
	MemoProgramV2 = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	MemoProgramV1 = "Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo"
)

// EnhancedTransaction is one document of the indexer's enhanced-transaction webhook.
type EnhancedTransaction struct {
	Signature        string           `json:"signature"`
	Slot             uint64           `json:"slot"`
	Timestamp        int64            `json:"timestamp"`
	Fee              uint64           `json:"fee"`
	FeePayer         string           `json:"feePayer"`
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	Instructions     []Instruction    `json:"instructions"`
	TransactionError json.RawMessage  `json:"transactionError,omitempty"`
}

type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	// Amount 单位 lamports
	Amount uint64 `json:"amount"`
}

type TokenTransfer struct {
	FromUserAccount  string `json:"fromUserAccount"`
	ToUserAccount    string `json:"toUserAccount"`
	FromTokenAccount string `json:"fromTokenAccount"`
	ToTokenAccount   string `json:"toTokenAccount"`
	// TokenAmount is in UI units (already divided by decimals).
	TokenAmount json.Number `json:"tokenAmount"`
	Mint        string      `json:"mint"`
}

type Instruction struct {
	ProgramID         string        `json:"programId"`
	Data              string        `json:"data"`
	Accounts          []string      `json:"accounts"`
	InnerInstructions []Instruction `json:"innerInstructions"`
}

// failed reports whether the indexer flagged the transaction as failed on chain.
func (t *EnhancedTransaction) failed() bool {
	raw := bytes.TrimSpace(t.TransactionError)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// DecodeError is a per-document failure inside a webhook batch.
type DecodeError struct {
	Index     int
	Signature string
	Err       error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("document %d (%s): %v", e.Index, e.Signature, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// Decoder normalizes enhanced-transaction documents into TransferEvents.
type Decoder struct {
	registry *TokenRegistry
	log      *utils.Logger
}

func NewDecoder(registry *TokenRegistry, log *utils.Logger) *Decoder {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Decoder{registry: registry, log: log}
}

// DecodeBatch parses a webhook body. A body that is not a JSON array is a
// fatal ErrMalformedPayload; a bad element only produces a DecodeError.
func (d *Decoder) DecodeBatch(body []byte) ([]models.TransferEvent, []DecodeError, error) {
	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var (
		events   []models.TransferEvent
		failures []DecodeError
	)
	for i, raw := range docs {
		var doc EnhancedTransaction
		if err := json.Unmarshal(raw, &doc); err != nil {
			derr := DecodeError{Index: i, Err: fmt.Errorf("%w: %v", ErrDecodeFailure, err)}
			d.log.Warn("decode failure", "index", i, "err", err)
			failures = append(failures, derr)
			continue
		}
		evs, err := d.decode(doc, raw)
		if err != nil {
			d.log.Warn("decode failure", "index", i, "signature", doc.Signature, "err", err)
			failures = append(failures, DecodeError{Index: i, Signature: doc.Signature, Err: err})
			continue
		}
		events = append(events, evs...)
	}
	return events, failures, nil
}

// Decode extracts every allow-listed transfer of doc. The document is
// re-marshaled as the raw snapshot.
func (d *Decoder) Decode(doc EnhancedTransaction) ([]models.TransferEvent, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return d.decode(doc, raw)
}

func (d *Decoder) decode(doc EnhancedTransaction, raw json.RawMessage) ([]models.TransferEvent, error) {
	if strings.TrimSpace(doc.Signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrDecodeFailure)
	}
	// 失败的交易没有转移任何资产
	if doc.failed() {
		d.log.Debug("skip failed transaction", "signature", doc.Signature)
		return nil, nil
	}

	base := models.TransferEvent{
		Signature:  doc.Signature,
		Slot:       doc.Slot,
		NetworkFee: doc.Fee,
		Memo:       ExtractMemo(doc.Instructions),
		Raw:        raw,
	}
	if doc.Timestamp > 0 {
		base.BlockTime = time.Unix(doc.Timestamp, 0).UTC()
	}

	// 代币账户收到的 lamports 是创建账户的租金，不是付款
	tokenAccounts := make(map[string]bool)
	for _, tt := range doc.TokenTransfers {
		if tt.FromTokenAccount != "" {
			tokenAccounts[tt.FromTokenAccount] = true
		}
		if tt.ToTokenAccount != "" {
			tokenAccounts[tt.ToTokenAccount] = true
		}
	}

	var events []models.TransferEvent
	for _, nt := range doc.NativeTransfers {
		if nt.Amount == 0 || nt.ToUserAccount == "" || tokenAccounts[nt.ToUserAccount] {
			continue
		}
		ev := base
		ev.FromAddress = nt.FromUserAccount
		ev.ToAddress = nt.ToUserAccount
		ev.Amount = nt.Amount
		ev.Token = models.TokenSOL
		events = append(events, ev)
	}

	var legErr error
	for _, tt := range doc.TokenTransfers {
		tok, ok := d.registry.TokenForMint(tt.Mint)
		if !ok {
			// 不在白名单的 mint 直接忽略
			continue
		}
		if tt.ToUserAccount == "" {
			continue
		}
		amount, err := ToBaseUnits(tt.TokenAmount.String(), tok)
		if err != nil {
			legErr = fmt.Errorf("%w: token transfer %s: %v", ErrDecodeFailure, tt.Mint, err)
			d.log.Warn("skip undecodable token leg",
				"signature", doc.Signature, "mint", tt.Mint, "to", tt.ToUserAccount, "err", err)
			continue
		}
		if amount == 0 {
			continue
		}
		ev := base
		ev.FromAddress = tt.FromUserAccount
		ev.ToAddress = tt.ToUserAccount
		ev.Amount = amount
		ev.Token = tok
		events = append(events, ev)
	}
	// 只有坏的代币转账、没有其他可用转账时，整份文档算解码失败
	if len(events) == 0 && legErr != nil {
		return nil, legErr
	}
	return events, nil
}

// ToBaseUnits converts a UI-unit decimal string into the token's smallest unit.
// Amounts finer than the token's precision are rejected.
func ToBaseUnits(ui string, tok models.Token) (uint64, error) {
	if !tok.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, tok)
	}
	v, err := decimal.NewFromString(strings.TrimSpace(ui))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", ui, err)
	}
	if v.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", ui)
	}
	base := v.Shift(tok.Decimals())
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("amount %s exceeds %d decimals", ui, tok.Decimals())
	}
	if base.GreaterThan(decimalFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("amount %s overflows", ui)
	}
	return base.BigInt().Uint64(), nil
}

// FromBaseUnits renders a smallest-unit amount in UI units.
func FromBaseUnits(amount uint64, tok models.Token) string {
	return decimalFromUint64(amount).Shift(-tok.Decimals()).String()
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// ExtractMemo walks the instruction tree depth first and returns the text of
// the first memo instruction. A payload that is not base58 UTF-8 yields "".
func ExtractMemo(instrs []Instruction) string {
	memo, _ := findMemo(instrs)
	return memo
}

func findMemo(instrs []Instruction) (string, bool) {
	for _, ins := range instrs {
		if isMemoProgram(ins.ProgramID) {
			return decodeMemoData(ins.Data), true
		}
		if memo, found := findMemo(ins.InnerInstructions); found {
			return memo, true
		}
	}
	return "", false
}

func isMemoProgram(programID string) bool {
	return programID == MemoProgramV2 || programID == MemoProgramV1
}

func decodeMemoData(data string) string {
	if data == "" {
		return ""
	}
	b, err := base58.Decode(data)
	if err != nil || !utf8.Valid(b) {
		return ""
	}
	return strings.TrimSpace(string(b))
}
