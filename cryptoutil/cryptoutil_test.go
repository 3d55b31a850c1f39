package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	priv, err := GenerateKey()
	require.Nil(t, err)

	msg := []byte("document-identifier-bytes")
	sig, err := Sign(priv, msg)
	require.Nil(t, err)

	recovered, err := RecoverPublic(sig, msg)
	require.Nil(t, err)
	assert.True(t, recovered.Equal(priv.Public))
	assert.True(t, Verify(sig, msg, priv.Public))

	other, err := GenerateKey()
	require.Nil(t, err)
	assert.False(t, Verify(sig, msg, other.Public))
}

func TestSignWrongMessageFailsVerify(t *testing.T) {
	priv, err := GenerateKey()
	require.Nil(t, err)

	sig, err := Sign(priv, []byte("doc-a"))
	require.Nil(t, err)
	assert.False(t, Verify(sig, []byte("doc-b"), priv.Public))
}

func TestECDHAgreement(t *testing.T) {
	a, err := GenerateKey()
	require.Nil(t, err)
	b, err := GenerateKey()
	require.Nil(t, err)

	linkA, err := DeriveLinkKey(a, b.Public)
	require.Nil(t, err)
	linkB, err := DeriveLinkKey(b, a.Public)
	require.Nil(t, err)

	assert.Equal(t, 0, linkA.Scalar.Cmp(linkB.Scalar))
	assert.True(t, linkA.Point.Equal(linkB.Point))

	// property from §8: the reduced scalar lies in [1, N)
	assert.True(t, linkA.Scalar.Sign() > 0)
	assert.True(t, linkA.Scalar.Cmp(N) < 0)
}

func TestECIESRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.Nil(t, err)

	plaintext := []byte("the document secret key point, serialized")
	ciphertext, err := Encrypt(priv.Public, plaintext)
	require.Nil(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(priv, ciphertext)
	require.Nil(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestECIESWrongKeyFails(t *testing.T) {
	priv, err := GenerateKey()
	require.Nil(t, err)
	other, err := GenerateKey()
	require.Nil(t, err)

	ciphertext, err := Encrypt(priv.Public, []byte("secret"))
	require.Nil(t, err)

	_, err = Decrypt(other, ciphertext)
	assert.NotNil(t, err)
}

func TestPublicKeyBytesRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.Nil(t, err)

	b := priv.Public.Bytes()
	parsed, err := ParsePublicKey(b)
	require.Nil(t, err)
	assert.True(t, priv.Public.Equal(parsed))
}
