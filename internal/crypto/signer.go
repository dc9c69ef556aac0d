package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/bitpesa/bitpesa/internal/domain"
)

// EIP-712 type hashes.
var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	bridgeMessageTypeHash = ethcrypto.Keccak256(
		[]byte("BridgeMessage(uint64 sourceChain,uint64 destChain,address sender,address recipient,uint64 amountSats,uint64 nonce)"),
	)

	bridgeAckTypeHash = ethcrypto.Keccak256(
		[]byte("BridgeAck(uint64 sourceChain,address sender,uint64 nonce,bool delivered)"),
	)
)

const (
	domainName    = "BitPesaBridge"
	domainVersion = "1"
)

// Signer signs relay envelopes with a secp256k1 key. Digests follow EIP-712
// with the domain chainId set to the chain whose relayer signs.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk), nil
}

// NewSignerFromKey wraps an already parsed key.
func NewSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs an outbound bridge message on behalf of its source chain.
func (s *Signer) SignMessage(m domain.BridgeMessage) ([]byte, error) {
	return s.signDigest(MessageDigest(m))
}

// SignAck signs the destination's verdict on a message.
func (s *Signer) SignAck(destChain domain.ChainSelector, key domain.MessageKey, delivered bool) ([]byte, error) {
	return s.signDigest(AckDigest(destChain, key, delivered))
}

// MessageDigest is the EIP-712 digest of the fields a relayer vouches for.
// Status, direction and timestamps are local bookkeeping and not signed.
func MessageDigest(m domain.BridgeMessage) []byte {
	structHash := ethcrypto.Keccak256(
		bridgeMessageTypeHash,
		uint64Word(uint64(m.SourceChain)),
		uint64Word(uint64(m.DestChain)),
		common.LeftPadBytes(m.Sender.Bytes(), 32),
		common.LeftPadBytes(m.Recipient.Bytes(), 32),
		uint64Word(m.AmountSats),
		uint64Word(m.Nonce),
	)
	return eip712Hash(domainSeparator(m.SourceChain), structHash)
}

// AckDigest is the EIP-712 digest of an acknowledgement signed by destChain.
func AckDigest(destChain domain.ChainSelector, key domain.MessageKey, delivered bool) []byte {
	var flag uint64
	if delivered {
		flag = 1
	}
	structHash := ethcrypto.Keccak256(
		bridgeAckTypeHash,
		uint64Word(uint64(key.SourceChain)),
		common.LeftPadBytes(key.Sender.Bytes(), 32),
		uint64Word(key.Nonce),
		uint64Word(flag),
	)
	return eip712Hash(domainSeparator(destChain), structHash)
}

// Recover returns the address that produced sig over digest.
func Recover(digest, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("crypto/signer: %w: length %d", domain.ErrBadSignature, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: %w: %v", domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verifier accepts signatures from a fixed set of relayer addresses.
type Verifier struct {
	trusted map[common.Address]bool
}

// NewVerifier creates a Verifier trusting the given addresses.
func NewVerifier(trusted ...common.Address) *Verifier {
	v := &Verifier{trusted: make(map[common.Address]bool, len(trusted))}
	for _, a := range trusted {
		v.trusted[a] = true
	}
	return v
}

// Verify recovers the signer of digest and checks it is trusted.
func (v *Verifier) Verify(digest, sig []byte) (common.Address, error) {
	addr, err := Recover(digest, sig)
	if err != nil {
		return common.Address{}, err
	}
	if !v.trusted[addr] {
		return addr, fmt.Errorf("crypto/signer: %w: untrusted signer %s", domain.ErrBadSignature, addr.Hex())
	}
	return addr, nil
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chain domain.ChainSelector) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(domainName)),
		ethcrypto.Keccak256([]byte(domainVersion)),
		uint64Word(uint64(chain)),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

// signDigest returns r || s || v with v in {27, 28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("crypto/signer: no key")
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

func uint64Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}
