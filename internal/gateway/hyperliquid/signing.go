package hyperliquid

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

const l1ChainID = 1337

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	agentTypeHash  = crypto.Keccak256Hash([]byte("Agent(string source,bytes32 connectionId)"))
	domainName     = crypto.Keccak256Hash([]byte("Exchange"))
	domainVersion  = crypto.Keccak256Hash([]byte("1"))

	bytes32Ty = mustABIType("bytes32")
	uint256Ty = mustABIType("uint256")
	addressTy = mustABIType("address")
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// actionHash is keccak256(msgpack(action) || nonce_be64 || vault flag [|| vault]).
func actionHash(action any, vault *common.Address, nonce int64) (common.Hash, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return common.Hash{}, fmt.Errorf("encode action: %w", err)
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(nonce))
	buf.Write(n[:])
	if vault == nil {
		buf.WriteByte(0x00)
	} else {
		buf.WriteByte(0x01)
		buf.Write(vault.Bytes())
	}
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

func domainSeparator() (common.Hash, error) {
	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: uint256Ty},
		{Type: addressTy},
	}.Pack(domainTypeHash, domainName, domainVersion, big.NewInt(l1ChainID), common.Address{})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// agentDigest is the EIP-712 digest of the phantom agent wrapping connectionID.
func agentDigest(connectionID common.Hash, mainnet bool) (common.Hash, error) {
	source := "b"
	if mainnet {
		source = "a"
	}
	sep, err := domainSeparator()
	if err != nil {
		return common.Hash{}, err
	}
	encoded, err := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
	}.Pack(agentTypeHash, crypto.Keccak256Hash([]byte(source)), connectionID)
	if err != nil {
		return common.Hash{}, err
	}
	structHash := crypto.Keccak256Hash(encoded)
	raw := make([]byte, 0, 2+32+32)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, sep.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	return crypto.Keccak256Hash(raw), nil
}

func signL1Action(key *ecdsa.PrivateKey, action any, vault *common.Address, nonce int64, mainnet bool) (signatureWire, error) {
	connectionID, err := actionHash(action, vault, nonce)
	if err != nil {
		return signatureWire{}, err
	}
	digest, err := agentDigest(connectionID, mainnet)
	if err != nil {
		return signatureWire{}, err
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return signatureWire{}, err
	}
	return signatureWire{
		R: hexutil32(sig[:32]),
		S: hexutil32(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

func hexutil32(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}
