package evm_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	evm "github.com/vreid/baishi/internal/pkg/session/evm"
)

// well-known hardhat development key #0
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestParseKeySigner(t *testing.T) {
	t.Parallel()

	signer, err := evm.ParseKeySigner(devKey)
	require.NoError(t, err)
	assert.Equal(t, devAddress, signer.Address())

	_, err = evm.ParseKeySigner("0xnot-a-key")
	require.Error(t, err)
}

func TestSignHashRecoversSigner(t *testing.T) {
	t.Parallel()

	signer, err := evm.ParseKeySigner(devKey)
	require.NoError(t, err)

	chainSigner := types.LatestSignerForChainID(big.NewInt(1337))
	to := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	//nolint:exhaustruct
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(100),
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})

	sig, err := signer.SignHash(chainSigner.Hash(tx).Bytes())
	require.NoError(t, err)

	signed, err := tx.WithSignature(chainSigner, sig)
	require.NoError(t, err)

	sender, err := types.Sender(chainSigner, signed)
	require.NoError(t, err)
	assert.Equal(t, devAddress, sender.Hex())
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	signer, err := evm.ParseKeySigner(devKey)
	require.NoError(t, err)

	message := []byte("join match 7")

	sig, err := signer.SignMessage(message)
	require.NoError(t, err)

	ok, err := evm.VerifySignature(message, sig, strings.ToLower(devAddress))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = evm.VerifySignature([]byte("join match 8"), sig, devAddress)
	require.NoError(t, err)
	assert.False(t, ok)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	ok, err = evm.VerifySignature(message, sig, crypto.PubkeyToAddress(other.PublicKey).Hex())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = evm.VerifySignature(message, sig[:10], devAddress)
	require.ErrorIs(t, err, evm.ErrInvalidSignature)
}

func TestAssertTxSuccess(t *testing.T) {
	t.Parallel()

	require.NoError(t, evm.AssertTxSuccess(&types.Receipt{Status: types.ReceiptStatusSuccessful}))
	require.ErrorIs(t, evm.AssertTxSuccess(&types.Receipt{Status: types.ReceiptStatusFailed}), evm.ErrTxFailed)
	require.ErrorIs(t, evm.AssertTxSuccess(nil), evm.ErrTxFailed)
}

func TestParseArtifact(t *testing.T) {
	t.Parallel()

	artifact, err := evm.ParseArtifact([]byte(`{
		"abi": [{"type": "function", "name": "deposit", "stateMutability": "payable", "inputs": [], "outputs": []}],
		"bytecode": "6080"
	}`))
	require.NoError(t, err)

	assert.Contains(t, artifact.ABI.Methods, "deposit")
	assert.Equal(t, []byte{0x60, 0x80}, artifact.Bytecode)

	_, err = evm.ParseArtifact([]byte(`{"abi": 5}`))
	require.Error(t, err)
}

func TestEmbeddedABIs(t *testing.T) {
	t.Parallel()

	router, err := evm.GameRouterABI()
	require.NoError(t, err)

	for _, method := range []string{"deposit", "hasDeposited", "startMatch", "endMatch"} {
		assert.Contains(t, router.Methods, method)
	}

	reward, err := evm.RewardEngineABI()
	require.NoError(t, err)
	assert.Contains(t, reward.Methods, "payout")
	assert.Contains(t, reward.Events, "Payout")
}
