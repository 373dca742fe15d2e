package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// KeySigner signs with a local secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func ParseKeySigner(keyHex string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() string {
	return s.address.Hex()
}

func (s *KeySigner) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}

	return sig, nil
}

// SignMessage produces an EIP-191 personal signature with v in {27, 28}.
func (s *KeySigner) SignMessage(message []byte) ([]byte, error) {
	sig, err := s.SignHash(accounts.TextHash(message))
	if err != nil {
		return nil, err
	}

	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

// VerifySignature reports whether signature is an EIP-191 signature of
// message by expectedAddress. Addresses compare case-insensitively.
func VerifySignature(message, signature []byte, expectedAddress string) (bool, error) {
	if len(signature) != crypto.SignatureLength {
		return false, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)

	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	recovered := crypto.PubkeyToAddress(*pub)

	return strings.EqualFold(recovered.Hex(), expectedAddress), nil
}

// AssertTxSuccess fails unless the receipt reports success.
func AssertTxSuccess(receipt *types.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: no receipt", ErrTxFailed)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: status=%d tx=%s", ErrTxFailed, receipt.Status, receipt.TxHash.Hex())
	}

	return nil
}
