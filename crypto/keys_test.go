package crypto

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	digest := Digest([]byte("matrix_register"), key.Address().Bytes())

	sig, err := key.Sign(digest)
	require.NoError(t, err)
	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	require.Equal(t, key.Address(), signer)

	other := Digest([]byte("matrix_buyLevel"))
	signer, err = RecoverSigner(other, sig)
	require.NoError(t, err)
	require.NotEqual(t, key.Address(), signer)

	_, err = RecoverSigner(digest, sig[:10])
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseAddressAndCustody(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	parsed, err := ParseAddress(key.Address().Hex())
	require.NoError(t, err)
	require.Equal(t, key.Address(), parsed)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)

	custody := CustodyAddress(parsed)
	require.Equal(t, custody, CustodyAddress(parsed))
	require.NotEqual(t, parsed, custody)

	roundTrip, err := PrivateKeyFromHex("0x" + hex.EncodeToString(key.Bytes()))
	require.NoError(t, err)
	require.Equal(t, key.Address(), roundTrip.Address())
}

func TestKeystoreRoundTrip(t *testing.T) {
	ScryptN, ScryptP = keystore.LightScryptN, keystore.LightScryptP
	t.Cleanup(func() { ScryptN, ScryptP = keystore.StandardScryptN, keystore.StandardScryptP })

	path := filepath.Join(t.TempDir(), "keys", "owner.keystore")
	created, fresh, err := LoadOrCreateKeystore(path, "pass")
	require.NoError(t, err)
	require.True(t, fresh)

	loaded, fresh, err := LoadOrCreateKeystore(path, "pass")
	require.NoError(t, err)
	require.False(t, fresh)
	require.Equal(t, created.Address(), loaded.Address())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
