package utils

import (
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DecodeTx parses a wire transaction (signed or not), e.g. the binary
// payload of getTransaction with base64 encoding.
func DecodeTx(data []byte) (*solana.Transaction, error) {
	if len(data) == 0 {
		return nil, errors.New("empty transaction")
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// EncodeBase64Tx serializes tx for a wallet to sign. Missing signatures are
// written as zeroed placeholders.
func EncodeBase64Tx(tx *solana.Transaction) (string, error) {
	if tx == nil {
		return "", errors.New("nil transaction")
	}
	// 未签名的位置写入全零签名，由钱包补签
	if n := int(tx.Message.Header.NumRequiredSignatures); len(tx.Signatures) < n {
		sigs := make([]solana.Signature, n)
		copy(sigs, tx.Signatures)
		tx.Signatures = sigs
	}
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}
