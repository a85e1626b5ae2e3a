package bundle

import (
	"bytes"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntity(t *testing.T) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity("tester", "", "tester@example.com", nil)
	require.NoError(t, err)
	return e
}

func signMessage(t *testing.T, signer *openpgp.Entity, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := openpgp.Sign(&buf, signer, nil, nil)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestVerifySignatureAcceptsKnownSigner(t *testing.T) {
	signer := newTestEntity(t)
	blob := signMessage(t, signer, []byte("manifest content"))

	b := &Bundle{SignatureBlob: blob}
	kr := &Keyring{Verify: openpgp.EntityList{signer}}

	data, err := b.VerifySignature(kr)
	require.NoError(t, err)
	assert.Equal(t, "manifest content", string(data))
	assert.True(t, b.SignatureVerified)
	assert.False(t, b.WasEncrypted)
	assert.NotEmpty(t, b.SignerFingerprint)
}

func TestVerifySignatureRejectsUnknownSigner(t *testing.T) {
	signer := newTestEntity(t)
	other := newTestEntity(t)
	blob := signMessage(t, signer, []byte("manifest content"))

	b := &Bundle{SignatureBlob: blob}
	kr := &Keyring{Verify: openpgp.EntityList{other}}

	_, err := b.VerifySignature(kr)
	assert.Error(t, err)
}

func TestVerifySignatureRejectsGarbage(t *testing.T) {
	b := &Bundle{SignatureBlob: []byte("not a pgp message")}
	kr := &Keyring{Verify: openpgp.EntityList{newTestEntity(t)}}

	_, err := b.VerifySignature(kr)
	assert.Error(t, err)
}

func TestFingerprintHexFormatsLowercase(t *testing.T) {
	var fp [20]byte
	for i := range fp {
		fp[i] = byte(i)
	}
	hex := fingerprintHex(fp)
	assert.Len(t, hex, 40)
	assert.Equal(t, "000102030405060708090a0b0c0d0e0f10111213", hex)
}
