package utils

import (
	"encoding/base64"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestEncodeUnsignedTx(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, to).Build()},
		solana.Hash{1},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	require.Empty(t, tx.Signatures)

	enc, err := EncodeBase64Tx(tx)
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	got, err := DecodeTx(data)
	require.NoError(t, err)
	// 付款人签名位为全零占位
	require.Len(t, got.Signatures, 1)
	assert.True(t, got.Signatures[0].IsZero())
	assert.Equal(t, payer, got.Message.AccountKeys[0])

	_, err = EncodeBase64Tx(nil)
	assert.Error(t, err)
	_, err = DecodeTx(nil)
	assert.Error(t, err)
	_, err = DecodeTx([]byte{1, 2})
	assert.Error(t, err)
}
