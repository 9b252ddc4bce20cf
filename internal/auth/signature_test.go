package auth

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type announcement struct {
	CID string `json:"cid"`
}

func TestSignVerifyRoundtrip(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg, err := Sign(priv, announcement{CID: "bafy-example"})
	require.NoError(t, err)

	assert.True(t, msg.Verify())
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg, err := Sign(priv, announcement{CID: "bafy-example"})
	require.NoError(t, err)

	msg.Data.CID = "bafy-tampered"
	assert.False(t, msg.Verify())
}

func TestVerifyRejectsFlippedSignatureBit(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg, err := Sign(priv, announcement{CID: "bafy-example"})
	require.NoError(t, err)

	msg.Signature[0] ^= 0xFF
	assert.False(t, msg.Verify())
}

func TestVerifyRejectsMismatchedAddress(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	msg, err := Sign(priv, announcement{CID: "bafy-example"})
	require.NoError(t, err)

	otherMsg, err := Sign(other, announcement{CID: "bafy-example"})
	require.NoError(t, err)
	msg.Address = otherMsg.Address

	assert.False(t, msg.Verify())
}
