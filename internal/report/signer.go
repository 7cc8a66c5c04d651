// Package report produces signed reports authorizing a ledger state change.
package report

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	EncoderEVM     = "evm"
	SigningECDSA   = "ecdsa"
	HashingKeccak  = "keccak256"
	signatureBytes = 65
)

var (
	ErrEmptyPayload     = errors.New("report payload is empty")
	ErrDigestMismatch   = errors.New("report digest does not match payload")
	ErrInvalidSignature = errors.New("invalid report signature")
)

// Report is an encoded call payload with a signature over its Keccak-256 digest.
type Report struct {
	Payload     []byte
	Digest      common.Hash
	Signature   []byte
	EncoderName string
	SigningAlgo string
	HashAlgo    string
}

// Signer produces signed reports.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (Report, error)
}

// ECDSASigner signs reports with a secp256k1 key.
type ECDSASigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// NewECDSASignerFromHex parses a hex private key, with or without 0x prefix.
func NewECDSASignerFromHex(hexKey string) (*ECDSASigner, error) {
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewECDSASigner(key), nil
}

func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Address is the account the signer's reports recover to.
func (s *ECDSASigner) Address() common.Address {
	return s.address
}

func (s *ECDSASigner) Sign(ctx context.Context, payload []byte) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	if len(payload) == 0 {
		return Report{}, ErrEmptyPayload
	}
	digest := crypto.Keccak256Hash(payload)
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return Report{}, fmt.Errorf("sign report: %w", err)
	}
	return Report{
		Payload:     bytes.Clone(payload),
		Digest:      digest,
		Signature:   sig,
		EncoderName: EncoderEVM,
		SigningAlgo: SigningECDSA,
		HashAlgo:    HashingKeccak,
	}, nil
}

// Verify checks the digest against the payload and returns the signing address.
func Verify(r Report) (common.Address, error) {
	if len(r.Payload) == 0 {
		return common.Address{}, ErrEmptyPayload
	}
	if r.HashAlgo != "" && r.HashAlgo != HashingKeccak {
		return common.Address{}, fmt.Errorf("%w: unsupported hash %q", ErrInvalidSignature, r.HashAlgo)
	}
	if crypto.Keccak256Hash(r.Payload) != r.Digest {
		return common.Address{}, ErrDigestMismatch
	}
	if len(r.Signature) != signatureBytes {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(r.Signature))
	}
	pub, err := crypto.SigToPub(r.Digest.Bytes(), r.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
