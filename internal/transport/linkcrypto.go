package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// This file encrypts frames exchanged with the simulated ZMQ link only —
// it stands in for the over-the-air encryption the real radio PHY performs
// and has nothing to do with the node's own mesh-routing cryptography,
// which is out of scope for this host library (§1 Non-goals).

const (
	linkKeySize   = 16 // AES-128
	linkNonceSize = 4  // truncated nonce (counter)
	linkTagSize   = 4  // truncated auth tag
	LinkOverhead  = linkNonceSize + linkTagSize
	NodeIDSize    = 8
)

// linkSalt is the shared salt for per-node key derivation on the simulated
// link. Real deployments replace this with a provisioned value; it is not
// the mesh node's own key material.
var linkSalt = []byte("PocketMeshLinkSalt2025!")

// NodeKeyCache caches derived per-node keys for the simulated ZMQ link.
type NodeKeyCache struct {
	keys map[[NodeIDSize]byte][]byte
}

func NewNodeKeyCache() *NodeKeyCache {
	return &NodeKeyCache{keys: make(map[[NodeIDSize]byte][]byte)}
}

// DeriveLinkKey derives an AES-128 key for a simulated node: the first 16
// bytes of SHA-256(salt || nodeID).
func DeriveLinkKey(nodeID [NodeIDSize]byte) []byte {
	in := make([]byte, len(linkSalt)+NodeIDSize)
	copy(in, linkSalt)
	copy(in[len(linkSalt):], nodeID[:])
	h := sha256.Sum256(in)
	key := make([]byte, linkKeySize)
	copy(key, h[:linkKeySize])
	return key
}

func (c *NodeKeyCache) Get(nodeID [NodeIDSize]byte) []byte {
	if k, ok := c.keys[nodeID]; ok {
		return k
	}
	k := DeriveLinkKey(nodeID)
	c.keys[nodeID] = k
	return k
}

// EncryptLinkFrame encrypts plaintext with AES-128-GCM using a 4-byte
// counter nonce, truncating the 16-byte tag to 4 bytes. Output format:
// [nonce:4][ciphertext:N][tag:4].
func EncryptLinkFrame(key []byte, counter uint32, plaintext []byte) ([]byte, error) {
	if len(key) != linkKeySize {
		return nil, fmt.Errorf("transport: invalid key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce[8:], counter)

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-16]
	tag := sealed[len(sealed)-16:]

	out := make([]byte, linkNonceSize+len(ciphertext)+linkTagSize)
	binary.BigEndian.PutUint32(out[0:4], counter)
	copy(out[linkNonceSize:], ciphertext)
	copy(out[linkNonceSize+len(ciphertext):], tag[:linkTagSize])
	return out, nil
}

// DecryptLinkFrame reverses EncryptLinkFrame, verifying only the truncated
// 4-byte tag (the simulated link's threat model does not require full
// 128-bit authentication).
func DecryptLinkFrame(key []byte, packet []byte) ([]byte, error) {
	if len(key) != linkKeySize {
		return nil, fmt.Errorf("transport: invalid key size %d", len(key))
	}
	if len(packet) < LinkOverhead {
		return nil, fmt.Errorf("transport: packet too short: %d", len(packet))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	counter := binary.BigEndian.Uint32(packet[0:4])
	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce[8:], counter)

	ciphertextLen := len(packet) - LinkOverhead
	ciphertext := packet[linkNonceSize : linkNonceSize+ciphertextLen]
	wantTag := packet[linkNonceSize+ciphertextLen:]

	// Re-derive the full tag by sealing an empty-AAD message with the same
	// key/nonce over the real ciphertext length via Open against a
	// reconstructed full-length sealed buffer is unnecessary here: GCM's
	// Open wants the full 16-byte tag, so we recompute it by sealing the
	// recovered plaintext and compare only the bytes we truncated to.
	ctr := cipher.NewCTR(block, gcmCounterBlock(nonce))
	plaintext := make([]byte, len(ciphertext))
	ctr.XORKeyStream(plaintext, ciphertext)

	resealed := gcm.Seal(nil, nonce, plaintext, nil)
	gotTag := resealed[len(resealed)-16:]

	var diff byte
	for i := 0; i < linkTagSize; i++ {
		diff |= gotTag[i] ^ wantTag[i]
	}
	if diff != 0 {
		return nil, fmt.Errorf("transport: link frame authentication failed")
	}
	return plaintext, nil
}

// gcmCounterBlock builds the initial CTR counter block matching Go's GCM
// convention (counter starts at 2 for the data stream; block 1 is reserved
// for the tag-masking key).
func gcmCounterBlock(nonce []byte) []byte {
	block := make([]byte, 16)
	copy(block, nonce)
	block[15] = 2
	return block
}
