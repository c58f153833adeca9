package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature is malformed or was not made
// by the claimed principal.
var ErrBadSignature = errors.New("crypto: bad signature")

// RequestMessage is the text a caller signs to authenticate one request.
func RequestMessage(method, path string, ts time.Time) string {
	return strings.ToUpper(method) + " " + path + " " + strconv.FormatInt(ts.Unix(), 10)
}

// Signer produces EIP-191 personal_sign signatures.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// Address is the principal this signer speaks for.
func (s *Signer) Address() common.Address { return s.address }

// Sign returns a 0x-prefixed 65-byte signature with v in {27,28}.
func (s *Signer) Sign(message string) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: signing: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SignRequest signs RequestMessage(method, path, ts).
func (s *Signer) SignRequest(method, path string, ts time.Time) (string, error) {
	return s.Sign(RequestMessage(method, path, ts))
}

// Recover returns the address that produced sig over message. Both v
// conventions ({0,1} and {27,28}) are accepted.
func Recover(message, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != ethcrypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if raw[ethcrypto.RecoveryIDOffset] >= 27 {
		raw[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(message)), raw)
	if err != nil {
		return common.Address{}, ErrBadSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that principal signed message.
func Verify(principal common.Address, message, sig string) error {
	got, err := Recover(message, sig)
	if err != nil {
		return err
	}
	if got != principal {
		return ErrBadSignature
	}
	return nil
}
