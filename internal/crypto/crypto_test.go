package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/bitpesa/bitpesa/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testMessage() domain.BridgeMessage {
	return domain.BridgeMessage{
		SourceChain: 1,
		DestChain:   2,
		Sender:      common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		Recipient:   common.HexToAddress("0x00000000000000000000000000000000000000b2"),
		AmountSats:  500_000,
		Nonce:       3,
		Status:      domain.BridgeStatusPending,
	}
}

func TestSignAndVerifyMessage(t *testing.T) {
	require := require.New(t)
	signer, err := NewSigner("0x" + testKeyHex)
	require.NoError(err)

	msg := testMessage()
	sig, err := signer.SignMessage(msg)
	require.NoError(err)
	require.Len(sig, 65)
	require.GreaterOrEqual(sig[64], byte(27))

	v := NewVerifier(signer.Address())
	addr, err := v.Verify(MessageDigest(msg), sig)
	require.NoError(err)
	require.Equal(signer.Address(), addr)

	// Local bookkeeping is not covered by the signature.
	msg.Status = domain.BridgeStatusDelivered
	_, err = v.Verify(MessageDigest(msg), sig)
	require.NoError(err)

	tampered := testMessage()
	tampered.AmountSats++
	_, err = v.Verify(MessageDigest(tampered), sig)
	require.ErrorIs(err, domain.ErrBadSignature)

	other, err := ethcrypto.GenerateKey()
	require.NoError(err)
	_, err = NewVerifier(ethcrypto.PubkeyToAddress(other.PublicKey)).Verify(MessageDigest(msg), sig)
	require.ErrorIs(err, domain.ErrBadSignature)

	_, err = v.Verify(MessageDigest(msg), sig[:10])
	require.ErrorIs(err, domain.ErrBadSignature)
}

func TestAckDigestBindsVerdictAndChain(t *testing.T) {
	require := require.New(t)
	key := testMessage().Key()
	require.NotEqual(AckDigest(2, key, true), AckDigest(2, key, false))
	require.NotEqual(AckDigest(2, key, true), AckDigest(3, key, true))

	signer, err := NewSigner(testKeyHex)
	require.NoError(err)
	sig, err := signer.SignAck(2, key, true)
	require.NoError(err)
	addr, err := Recover(AckDigest(2, key, true), sig)
	require.NoError(err)
	require.Equal(signer.Address(), addr)
}

func TestKeyFileRoundTrip(t *testing.T) {
	require := require.New(t)
	pk, err := ParseHexKey(testKeyHex)
	require.NoError(err)

	data, err := EncryptKey(pk, "correct horse")
	require.NoError(err)

	got, err := DecryptKey(data, "correct horse")
	require.NoError(err)
	require.Equal(ethcrypto.FromECDSA(pk), ethcrypto.FromECDSA(got))

	_, err = DecryptKey(data, "wrong")
	require.Error(err)
	_, err = EncryptKey(pk, "")
	require.Error(err)

	path := filepath.Join(t.TempDir(), "relayer.json")
	require.NoError(os.WriteFile(path, data, 0o600))
	loaded, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "correct horse"})
	require.NoError(err)
	require.Equal(pk.D, loaded.D)

	raw, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nonexistent"})
	require.NoError(err)
	require.Equal(pk.D, raw.D)

	_, err = LoadKey(KeyConfig{})
	require.Error(err)
}
