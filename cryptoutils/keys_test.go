package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeypairFromSeedIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, SeedSize)

	a, err := NewKeypairFromSeed(seed)
	require.NoError(t, err)
	b, err := NewKeypairFromHexSeed(EncodeHex(seed))
	require.NoError(t, err)

	assert.Equal(t, a.Address(), b.Address())
	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, seed, a.Seed())

	_, err = NewKeypairFromSeed(seed[:31])
	assert.Error(t, err)
}

func TestAddressRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	pubkey, err := PublicKeyFromAddress(kp.Address())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey(), pubkey)
	assert.NoError(t, ValidateAddress(kp.Address()))
}

func TestAddressRejectsMalformed(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	raw, err := base58.Decode(kp.Address().String())
	require.NoError(t, err)

	badChecksum := bytes.Clone(raw)
	badChecksum[len(badChecksum)-1] ^= 0xff

	badPrefix := bytes.Clone(raw)
	badPrefix[0] = 200

	testCases := []struct {
		name    string
		address interfaces.Address
		target  error
	}{
		{"empty", "", ErrInvalidAddress},
		{"not base58", "0OIl", ErrInvalidAddress},
		{"too short", interfaces.Address(base58.Encode(raw[:20])), ErrInvalidAddress},
		{"bad checksum", interfaces.Address(base58.Encode(badChecksum)), ErrAddressChecksum},
		{"bad prefix", interfaces.Address(base58.Encode(badPrefix)), ErrInvalidAddress},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PublicKeyFromAddress(tc.address)
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	other, err := GenerateKeypair()
	require.NoError(t, err)

	message := []byte("challenge")
	signature := kp.Sign(message)

	ok, err := Verify(kp.Address(), message, signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(other.Address(), message, signature)
	require.NoError(t, err)
	assert.False(t, ok, "signature by another key")

	ok, err = Verify(kp.Address(), []byte("other challenge"), signature)
	require.NoError(t, err)
	assert.False(t, ok, "signature over another message")

	ok, err = Verify(kp.Address(), message, signature[:10])
	require.NoError(t, err)
	assert.False(t, ok, "truncated signature")

	_, err = Verify("garbage", message, signature)
	assert.Error(t, err)
}

func TestHexEncoding(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, "0xdeadbeef", EncodeHex(data))

	for _, in := range []string{"0xdeadbeef", "0XDEADBEEF", "deadbeef"} {
		out, err := DecodeHex(in)
		require.NoError(t, err, in)
		assert.Equal(t, data, out)
	}

	_, err := DecodeHex("0xabc")
	assert.Error(t, err)
	_, err = DecodeHex("zz")
	assert.Error(t, err)
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(100)
	require.NoError(t, err)
	b, err := RandomBytes(100)
	require.NoError(t, err)
	assert.Len(t, a, 100)
	assert.NotEqual(t, a, b)
}
