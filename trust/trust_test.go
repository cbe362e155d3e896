package trust_test

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborfs/pull/pullerr"
	"github.com/arborfs/pull/trust"
)

func encodeSigSet(t *testing.T, sigs trust.SignatureSet) []byte {
	t.Helper()
	var raw []byte
	for _, s := range sigs {
		raw = append(raw, s.KeyID[:]...)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s.Sig)))
		raw = append(raw, lenBuf[:]...)
		raw = append(raw, s.Sig...)
	}
	return raw
}

func TestVerifySummary_TrustedSignaturePasses(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	keyring := trust.NewKeyring()
	var keyID [8]byte
	copy(keyID[:], "key-0001")
	keyring.Trust("origin", keyID, pub)

	message := []byte("summary bytes")
	sig := ed25519.Sign(priv, message)
	raw := encodeSigSet(t, trust.SignatureSet{{KeyID: keyID, Sig: sig}})

	verifier := trust.NewVerifier(keyring)
	err = trust.VerifySummary(verifier, "origin", message, raw)
	assert.NoError(t, err)
}

func TestVerifySummary_UntrustedKeyFails(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	keyring := trust.NewKeyring() // nothing trusted
	message := []byte("summary bytes")
	sig := ed25519.Sign(priv, message)
	var keyID [8]byte
	copy(keyID[:], "key-0001")
	raw := encodeSigSet(t, trust.SignatureSet{{KeyID: keyID, Sig: sig}})

	verifier := trust.NewVerifier(keyring)
	err = trust.VerifySummary(verifier, "origin", message, raw)
	require.Error(t, err)
	assert.Equal(t, pullerr.KindTrustFailure, pullerr.KindOf(err))
}

func TestVerifySummary_TamperedMessageFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	keyring := trust.NewKeyring()
	var keyID [8]byte
	copy(keyID[:], "key-0001")
	keyring.Trust("origin", keyID, pub)

	sig := ed25519.Sign(priv, []byte("original"))
	raw := encodeSigSet(t, trust.SignatureSet{{KeyID: keyID, Sig: sig}})

	verifier := trust.NewVerifier(keyring)
	err = trust.VerifySummary(verifier, "origin", []byte("tampered"), raw)
	require.Error(t, err)
	assert.Equal(t, pullerr.KindTrustFailure, pullerr.KindOf(err))
}
