package prism

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

const (
	// TranTokenSize is the serialized token length: id(8) || ticks(8) || mac(16).
	TranTokenSize = 32

	tranTokenMACSize = 16
)

// TranToken is a short-lived credential: a random id, a creation time in
// Unix nanoseconds and a truncated HMAC-SHA256 over id || ticks || payload.
type TranToken struct {
	ID        [8]byte
	Ticks     int64
	Signature [tranTokenMACSize]byte
}

// NewTranToken creates an unsigned token stamped with now.
func NewTranToken(now time.Time) *TranToken {
	t := &TranToken{Ticks: now.UnixNano()}
	// crypto/rand.Read does not return an error since Go 1.24.
	_, _ = rand.Read(t.ID[:])
	return t
}

// GenerateTranToken creates and signs a token in one step.
func GenerateTranToken(now time.Time, key, payload []byte) *TranToken {
	t := NewTranToken(now)
	t.Sign(key, payload)
	return t
}

func (t *TranToken) mac(key, payload []byte) []byte {
	var ticks [8]byte
	binary.LittleEndian.PutUint64(ticks[:], uint64(t.Ticks))

	h := hmac.New(sha256.New, key)
	h.Write(t.ID[:])
	h.Write(ticks[:])
	h.Write(payload)
	return h.Sum(nil)[:tranTokenMACSize]
}

// Sign sets the signature for key and payload.
func (t *TranToken) Sign(key, payload []byte) {
	copy(t.Signature[:], t.mac(key, payload))
}

// Check verifies the signature in constant time.
func (t *TranToken) Check(key, payload []byte) bool {
	return hmac.Equal(t.Signature[:], t.mac(key, payload))
}

// Time returns the token's creation time.
func (t *TranToken) Time() time.Time {
	return time.Unix(0, t.Ticks)
}

// OnTime reports whether the token time is within window of now, inclusive.
func (t *TranToken) OnTime(now time.Time, window time.Duration) bool {
	return withinWindow(t.Ticks, now.UnixNano(), int64(window))
}

// Bytes serializes the token to 32 bytes, little-endian ticks.
func (t *TranToken) Bytes() []byte {
	buf := make([]byte, TranTokenSize)
	copy(buf[0:8], t.ID[:])
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.Ticks))
	copy(buf[16:], t.Signature[:])
	return buf
}

// ParseTranToken decodes a 32-byte token.
func ParseTranToken(data []byte) (*TranToken, error) {
	if len(data) != TranTokenSize {
		return nil, ErrInvalidToken.WithDetails("token must be %d bytes, got %d", TranTokenSize, len(data))
	}
	t := &TranToken{Ticks: int64(binary.LittleEndian.Uint64(data[8:16]))}
	copy(t.ID[:], data[0:8])
	copy(t.Signature[:], data[16:])
	return t, nil
}
