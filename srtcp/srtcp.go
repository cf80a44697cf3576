// Package srtcp implements the SRTCP encrypt/authenticate/decrypt
// transform used to secure RTCP control packets (RFC 3711). The wire
// construction is fixed by the RFC -- AES in counter mode for
// confidentiality, HMAC-SHA1 truncated to AuthTagLength for integrity --
// so this package reaches for crypto/aes, crypto/cipher, crypto/hmac and
// crypto/sha1 directly rather than a higher-level library: nothing in the
// dependency pack exposes this exact SRTCP framing.
package srtcp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/opd-ai/rtpflow/internal/logging"
)

// AuthTagLength is the truncated HMAC-SHA1 tag length SRTCP appends to
// every packet, per RFC 3711 §4.2.1 (a 10-byte, 80-bit tag).
const AuthTagLength = 10

// IndexLength is the width of the SRTCP index field (the e-bit plus a
// 31-bit sequence number) appended before the auth tag.
const IndexLength = 4

// KeyLength is the size of each cryptographic key/salt used by the
// transform.
const KeyLength = 16

var (
	// ErrAuthTagMismatch is returned by VerifyAuthTag when the computed
	// and received tags differ.
	ErrAuthTagMismatch = errors.New("srtcp: authentication tag mismatch")
	// ErrReplayedPacket is returned by VerifyAuthTag when the packet's
	// digest has already been seen.
	ErrReplayedPacket = errors.New("srtcp: replayed packet")
	// ErrShortPacket is returned when a buffer is too small to contain
	// the fields an operation needs.
	ErrShortPacket = errors.New("srtcp: packet too short")
)

// KeyMaterial holds one direction's (local or remote) symmetric keys.
type KeyMaterial struct {
	EncKey  [KeyLength]byte
	AuthKey [KeyLength]byte
	SaltKey [KeyLength]byte
}

// Wipe zeroes the key material in place so it does not linger in memory
// after a Context is done with it.
func (k *KeyMaterial) Wipe() {
	zero := make([]byte, KeyLength)
	subtle.ConstantTimeCompare(k.EncKey[:], zero)
	subtle.ConstantTimeCompare(k.AuthKey[:], zero)
	subtle.ConstantTimeCompare(k.SaltKey[:], zero)
	for i := range k.EncKey {
		k.EncKey[i] = 0
	}
	for i := range k.AuthKey {
		k.AuthKey[i] = 0
	}
	for i := range k.SaltKey {
		k.SaltKey[i] = 0
	}
	runtime.KeepAlive(k)
}

// replayWindow tracks recently seen packet digests to reject retransmits
// of a previously authenticated packet, an in-memory analogue of the
// disk-backed nonce store used elsewhere: SRTCP replay state is
// per-session and need not survive a restart.
type replayWindow struct {
	mu   sync.Mutex
	seen map[[sha1.Size]byte]struct{}
}

func newReplayWindow() *replayWindow {
	return &replayWindow{seen: make(map[[sha1.Size]byte]struct{})}
}

func (w *replayWindow) checkAndStore(digest [sha1.Size]byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[digest]; ok {
		return false
	}
	w.seen[digest] = struct{}{}
	return true
}

// Context holds the local (send) and remote (receive) key material and
// the rollover counter needed to transform RTCP packets,
// mirroring the original design's srtcp_ctx.
type Context struct {
	Local  KeyMaterial
	Remote KeyMaterial

	// UseNullCipher disables encryption while still adding/verifying
	// the authentication tag, matching the original's null-cipher mode
	// used for testing and for RTCP profiles that only need integrity.
	UseNullCipher bool

	roc    uint32
	replay *replayWindow
	log    *logging.Helper
}

// NewContext builds a transform context from local/remote key material.
func NewContext(local, remote KeyMaterial) *Context {
	return &Context{
		Local:  local,
		Remote: remote,
		replay: newReplayWindow(),
		log:    logging.New("srtcp"),
	}
}

// Close wipes both directions' key material.
func (c *Context) Close() {
	c.Local.Wipe()
	c.Remote.Wipe()
}

// createIV builds the 16-byte AES-CTR initialization vector from the
// SSRC, sequence index and the first 14 bytes of the salt key, per RFC
// 3711 §4.1.1: the salt is XORed against a buffer holding the SSRC at
// bytes 4-7 and the index at bytes 10-13 (ssrc*2^64 XOR index*2^16),
// with the low two bytes reserved as the block counter.
func createIV(ssrc uint32, index uint32, salt [KeyLength]byte) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint32(iv[4:8], ssrc)
	binary.BigEndian.PutUint32(iv[10:14], index)
	for i := 0; i < 14; i++ {
		iv[i] ^= salt[i]
	}
	return iv
}

func ssrcOf(packet []byte) (uint32, error) {
	if len(packet) < 8 {
		return 0, ErrShortPacket
	}
	return binary.BigEndian.Uint32(packet[4:8]), nil
}

// Encrypt transforms packet in place with AES-CTR keyed by Local.EncKey,
// leaving the 8-byte RTCP header (version/PT/length/SSRC) untouched and
// encrypting everything after it. A no-op when UseNullCipher is set.
func (c *Context) Encrypt(packet []byte, index uint32) error {
	if c.UseNullCipher {
		return nil
	}
	if len(packet) < 8 {
		return ErrShortPacket
	}

	ssrc, err := ssrcOf(packet)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(c.Local.EncKey[:])
	if err != nil {
		return fmt.Errorf("srtcp: encrypt cipher init: %w", err)
	}
	iv := createIV(ssrc, index, c.Local.SaltKey)
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(packet[8:], packet[8:])
	return nil
}

// Decrypt transforms packet in place with AES-CTR keyed by Remote.EncKey.
// body is the encrypted span: bytes 8..len(packet)-IndexLength-AuthTagLength,
// matching the original design's skip of the header, SRTCP index and
// authentication tag.
func (c *Context) Decrypt(packet []byte, index uint32) error {
	if c.UseNullCipher {
		return nil
	}
	bodyEnd := len(packet) - IndexLength - AuthTagLength
	if bodyEnd < 8 {
		return ErrShortPacket
	}

	ssrc, err := ssrcOf(packet)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(c.Remote.EncKey[:])
	if err != nil {
		return fmt.Errorf("srtcp: decrypt cipher init: %w", err)
	}
	iv := createIV(ssrc, index, c.Remote.SaltKey)
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(packet[8:bodyEnd], packet[8:bodyEnd])
	return nil
}

// AddAuthTag appends a truncated HMAC-SHA1 tag over the packet (as it
// stands, including the SRTCP index) followed by the rollover counter in
// host byte order -- matching the original's raw memory cast of the roc
// field onto the HMAC input, not a network-order encoding -- then returns
// the packet with tag appended.
func (c *Context) AddAuthTag(packet []byte, roc uint32) []byte {
	mac := hmac.New(sha1.New, c.Local.AuthKey[:])
	mac.Write(packet)
	var rocBytes [4]byte
	binary.NativeEndian.PutUint32(rocBytes[:], roc)
	mac.Write(rocBytes[:])
	digest := mac.Sum(nil)
	return append(packet, digest[:AuthTagLength]...)
}

// VerifyAuthTag recomputes the tag over packet[:len(packet)-AuthTagLength]
// using Remote.AuthKey and the supplied rollover counter, compares it in
// constant time against the trailing AuthTagLength bytes, and checks the
// full (untruncated) digest against the replay window.
func (c *Context) VerifyAuthTag(packet []byte, roc uint32) error {
	if len(packet) < AuthTagLength {
		return ErrShortPacket
	}
	body := packet[:len(packet)-AuthTagLength]
	received := packet[len(packet)-AuthTagLength:]

	mac := hmac.New(sha1.New, c.Remote.AuthKey[:])
	mac.Write(body)
	var rocBytes [4]byte
	binary.NativeEndian.PutUint32(rocBytes[:], roc)
	mac.Write(rocBytes[:])
	digest := mac.Sum(nil)

	if subtle.ConstantTimeCompare(digest[:AuthTagLength], received) != 1 {
		c.log.Warn("authentication tag mismatch")
		return ErrAuthTagMismatch
	}

	var digestArr [sha1.Size]byte
	copy(digestArr[:], digest)
	if !c.replay.checkAndStore(digestArr) {
		c.log.Warn("replayed packet rejected")
		return ErrReplayedPacket
	}
	return nil
}

// NextROC returns the rollover counter the next packet on this context
// should use and advances it.
func (c *Context) NextROC() uint32 {
	roc := c.roc
	c.roc++
	return roc
}

// index extracts the SRTCP index (the e-bit plus 31-bit sequence number)
// from the trailing IndexLength bytes that precede the authentication
// tag, masking off the e-bit so the remaining value is usable directly
// as the index/roc argument to Decrypt and VerifyAuthTag.
func index(packet []byte) (uint32, error) {
	if len(packet) < AuthTagLength+IndexLength {
		return 0, ErrShortPacket
	}
	start := len(packet) - AuthTagLength - IndexLength
	raw := binary.BigEndian.Uint32(packet[start : start+IndexLength])
	return raw &^ (1 << 31), nil
}

// Open authenticates and decrypts a received SRTCP-protected RTCP
// datagram, in one step: it reads the wire-format index field,
// verifies the authentication tag (rejecting mismatches and replays),
// decrypts the body, and returns the plaintext RTCP bytes with the
// index and tag stripped. Wire layout: header(8) || body || index(4) ||
// tag(AuthTagLength).
func (c *Context) Open(packet []byte) ([]byte, error) {
	idx, err := index(packet)
	if err != nil {
		return nil, err
	}
	if err := c.VerifyAuthTag(packet, idx); err != nil {
		return nil, err
	}

	plaintext := append([]byte{}, packet...)
	if err := c.Decrypt(plaintext, idx); err != nil {
		return nil, err
	}
	return plaintext[:len(plaintext)-IndexLength-AuthTagLength], nil
}
