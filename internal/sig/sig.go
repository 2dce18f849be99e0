// Package sig implements the bet-authorization signature scheme: Keccak256
// message digests signed with compact secp256k1 signatures in [R || S || V]
// form, V ∈ {0, 1}. The signer address is the last 20 bytes of the keccak
// hash of the uncompressed public key.
package sig

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/paddock/race-engine/internal/model"
)

const (
	// SignatureLength is 64 bytes of R||S plus one recovery-id byte.
	SignatureLength = 65

	// DigestLength is the Keccak256 output size.
	DigestLength = 32

	// recoveryID is the compact-signature header base used by btcec.
	recoveryID = byte(27)
)

var (
	ErrInvalidDigest    = errors.New("sig: digest must be 32 bytes")
	ErrInvalidSignature = errors.New("sig: signature must be 65 bytes")
)

// Domain-separation tags so a bet authorization can never replay as a
// revocation authorization and vice versa.
var (
	betTag    = []byte("race-engine/bet/v1")
	revokeTag = []byte("race-engine/revoke/v1")
)

// Keccak256 hashes the concatenation of the inputs with legacy Keccak256.
func Keccak256(v ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range v {
		h.Write(b)
	}
	return h.Sum(nil)
}

// BetDigest is the message an operator signs to authorize one bet:
// the (player, raceID, amount) triple. The amount is committed before the
// call is submitted, so a third party cannot replay the authorization with
// a different stake.
func BetDigest(player model.Address, raceID uint64, amount decimal.Decimal) []byte {
	return Keccak256(betTag, player[:], u64be(raceID), amount.BigInt().Bytes())
}

// RevokeDigest is the message an operator co-signs to authorize one refund:
// the (player, raceID) pair.
func RevokeDigest(player model.Address, raceID uint64) []byte {
	return Keccak256(revokeTag, player[:], u64be(raceID))
}

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PubKeyToAddress derives the account address of a public key: the last
// 20 bytes of keccak256 over the uncompressed point without the 0x04 prefix.
func PubKeyToAddress(pub *btcec.PublicKey) model.Address {
	raw := pub.SerializeUncompressed()
	return model.BytesToAddress(Keccak256(raw[1:])[12:])
}

// Address returns the account address controlled by a private key.
func Address(priv *btcec.PrivateKey) model.Address {
	return PubKeyToAddress(priv.PubKey())
}

// Sign produces a compact [R || S || V] signature over a 32-byte digest.
func Sign(priv *btcec.PrivateKey, digest []byte) ([]byte, error) {
	if len(digest) != DigestLength {
		return nil, ErrInvalidDigest
	}

	compact, err := btcecdsa.SignCompact(priv, digest, false)
	if err != nil {
		return nil, err
	}

	// btcec puts the recovery header first; convert to R||S||V.
	out := make([]byte, SignatureLength)
	copy(out, compact[1:])
	out[SignatureLength-1] = compact[0] - recoveryID
	return out, nil
}

// RecoverSigner returns the address that produced the signature over the
// digest. Malformed input yields the null address rather than an error;
// callers must compare the result against the expected signer explicitly.
func RecoverSigner(digest, signature []byte) model.Address {
	if len(digest) != DigestLength || len(signature) != SignatureLength {
		return model.NullAddress
	}

	// Convert back to btcec compact form with the header byte first.
	compact := make([]byte, SignatureLength)
	compact[0] = signature[SignatureLength-1] + recoveryID
	copy(compact[1:], signature)

	pub, _, err := btcecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return model.NullAddress
	}
	return PubKeyToAddress(pub)
}

func u64be(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}
