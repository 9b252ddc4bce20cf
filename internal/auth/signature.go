// Package auth implements the two authentication mechanisms spec.md §4.7
// describes: a generic recoverable-signature verifier for SignedMessage[T],
// and the pub-sub Sender Authenticator that gates live announcements by
// origin peer identity. The signature scheme is grounded on
// linked-data/src/signature.rs in the reference implementation: an
// Ethereum-style prefixed Keccak-256 hash recovered against a secp256k1
// signature.
package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// AddressSize is the length, in bytes, of an Ethereum-style address: the
// low 20 bytes of the Keccak-256 hash of an uncompressed public key.
const AddressSize = 20

// SignatureSize is the length, in bytes, of a recoverable signature:
// r (32) || s (32) || v (1, RPC-encoded recovery id).
const SignatureSize = 65

// Address is an opaque 20-byte signer identity.
type Address [AddressSize]byte

// Signature is a 65-byte recoverable secp256k1 signature in r||s||v form,
// v being the RPC-encoded recovery id (0/1, or 27/28).
type Signature [SignatureSize]byte

// SignedMessage pairs arbitrary data with a claimed signer address and a
// recoverable signature over its canonical encoding.
type SignedMessage[T any] struct {
	Address   Address   `json:"address"`
	Data      T         `json:"data"`
	Signature Signature `json:"signature"`
}

// Verify reports whether Signature recovers to a public key whose
// Keccak-256-derived address equals Address.
func (m SignedMessage[T]) Verify() bool {
	msg, err := json.Marshal(m.Data)
	if err != nil {
		return false
	}

	hash := prefixedHash(msg)

	pub, err := recoverPublicKey(m.Signature, hash)
	if err != nil {
		return false
	}

	return bytes.Equal(addressFromPublicKey(pub), m.Address[:])
}

// Sign produces a SignedMessage for data, signed by priv. It exists so
// tests can construct golden vectors without an external signer (mirroring
// how I8's roundtrip property is exercised).
func Sign[T any](priv *secp256k1.PrivateKey, data T) (SignedMessage[T], error) {
	msg, err := json.Marshal(data)
	if err != nil {
		return SignedMessage[T]{}, fmt.Errorf("marshal data: %w", err)
	}

	hash := prefixedHash(msg)

	compact := ecdsa.SignCompact(priv, hash, false)
	// compact[0] = 27 + recovery id (uncompressed key); rearrange to r||s||v.
	var sig Signature
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0] - 27

	pub := priv.PubKey()
	var addr Address
	copy(addr[:], addressFromPublicKey(pub))

	return SignedMessage[T]{Address: addr, Data: data, Signature: sig}, nil
}

// prefixedHash computes keccak256("\x19Ethereum Signed Message:\n" +
// len(msg) + msg), the hash actually signed.
func prefixedHash(msg []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}

// recoverPublicKey recovers the uncompressed public key from a 65-byte
// r||s||v signature over hash.
func recoverPublicKey(sig Signature, hash []byte) (*secp256k1.PublicKey, error) {
	// Decred's compact format is recovery-byte-first: 27+v, then r, then s.
	compact := make([]byte, SignatureSize)
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	compact[0] = 27 + v
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, fmt.Errorf("recover public key: %w", err)
	}
	return pub, nil
}

// addressFromPublicKey computes the low 20 bytes of keccak256 over the
// 64-byte (un-prefixed) uncompressed public key coordinates.
func addressFromPublicKey(pub *secp256k1.PublicKey) []byte {
	full := pub.SerializeUncompressed() // 0x04 || X(32) || Y(32)
	h := sha3.NewLegacyKeccak256()
	h.Write(full[1:])
	digest := h.Sum(nil)
	return digest[12:]
}
