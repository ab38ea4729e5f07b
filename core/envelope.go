package core

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnvelopeVersion is the single wire version this implementation speaks.
const EnvelopeVersion uint8 = 1

const maxReplyToLen = 64

// AuthenticatedEnvelope wraps every inter-subsystem payload with the
// authentication, replay-protection and correlation metadata needed for a
// bit-exact, canonical wire form.
type AuthenticatedEnvelope struct {
	Version       uint8
	CorrelationID [16]byte
	ReplyTo       string // optional, UTF-8, <= maxReplyToLen bytes
	SenderID      SubsystemId
	RecipientID   SubsystemId
	Timestamp     Timestamp
	Nonce         [16]byte // UUID v4
	Signature     [32]byte // HMAC-SHA-256
	PayloadType   PayloadType
	Payload       []byte
}

// NewCorrelationID and NewNonce produce random 16-byte identifiers using
// google/uuid's v4 generator, matching the wire format's literal
// "16 bytes (UUID v4)" requirement.
func NewCorrelationID() [16]byte { return uuid.New() }
func NewNonce() [16]byte         { return uuid.New() }

// signingPreimage concatenates every field preceding the signature in wire
// order, per "HMAC is computed over the canonical concatenation of all
// preceding fields".
func (e *AuthenticatedEnvelope) signingPreimage() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(e.Version)
	buf.Write(e.CorrelationID[:])
	writeLenPrefixedString(buf, e.ReplyTo)
	buf.WriteByte(byte(e.SenderID))
	buf.WriteByte(byte(e.RecipientID))
	writeUint64(buf, uint64(e.Timestamp))
	buf.Write(e.Nonce[:])
	writeLenPrefixedString(buf, string(e.PayloadType))
	writeLenPrefixedBytes(buf, e.Payload)
	return buf.Bytes()
}

// Sign computes and stores the HMAC-SHA-256 signature over the envelope's
// preceding fields under key.
func (e *AuthenticatedEnvelope) Sign(key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write(e.signingPreimage())
	copy(e.Signature[:], mac.Sum(nil))
}

// VerifySignature recomputes the HMAC under key and compares it to
// e.Signature in constant time.
func (e *AuthenticatedEnvelope) VerifySignature(key []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(e.signingPreimage())
	want := mac.Sum(nil)
	return hmac.Equal(want, e.Signature[:])
}

// Encode serializes the envelope into its canonical wire form: fixed fields
// followed by the length-prefixed reply_to and payload.
func (e *AuthenticatedEnvelope) Encode() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(e.Version)
	buf.Write(e.CorrelationID[:])
	writeLenPrefixedString(buf, e.ReplyTo)
	buf.WriteByte(byte(e.SenderID))
	buf.WriteByte(byte(e.RecipientID))
	writeUint64(buf, uint64(e.Timestamp))
	buf.Write(e.Nonce[:])
	buf.Write(e.Signature[:])
	writeLenPrefixedString(buf, string(e.PayloadType))
	writeLenPrefixedBytes(buf, e.Payload)
	return buf.Bytes()
}

// DecodeEnvelope parses the canonical wire form produced by Encode, then
// re-encodes the result and compares byte-for-byte against the input,
// rejecting any non-canonical form.
func DecodeEnvelope(data []byte) (*AuthenticatedEnvelope, error) {
	e, err := decodeEnvelopeLoose(data)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(e.Encode(), data) {
		return nil, NewError(ErrNonCanonicalEncoding, "envelope does not round-trip")
	}
	return e, nil
}

func decodeEnvelopeLoose(data []byte) (*AuthenticatedEnvelope, error) {
	r := bytes.NewReader(data)
	e := &AuthenticatedEnvelope{}

	v, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	e.Version = v
	if e.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Version)
	}
	if _, err := readFull(r, e.CorrelationID[:]); err != nil {
		return nil, fmt.Errorf("read correlation_id: %w", err)
	}
	replyTo, err := readLenPrefixedString(r, maxReplyToLen)
	if err != nil {
		return nil, fmt.Errorf("read reply_to: %w", err)
	}
	e.ReplyTo = replyTo

	senderByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read sender_id: %w", err)
	}
	e.SenderID = SubsystemId(senderByte)
	recipientByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read recipient_id: %w", err)
	}
	e.RecipientID = SubsystemId(recipientByte)

	ts, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("read timestamp: %w", err)
	}
	e.Timestamp = Timestamp(ts)

	if _, err := readFull(r, e.Nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	if _, err := readFull(r, e.Signature[:]); err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	payloadType, err := readLenPrefixedString(r, 255)
	if err != nil {
		return nil, fmt.Errorf("read payload_type: %w", err)
	}
	e.PayloadType = PayloadType(payloadType)

	payload, err := readLenPrefixedBytesAny(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	e.Payload = payload

	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after envelope")
	}
	return e, nil
}

// --- canonical primitive helpers -------------------------------------------------

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeLenPrefixedString(buf *bytes.Buffer, s string) {
	writeLenPrefixedBytes(buf, []byte(s))
}

func writeLenPrefixedBytes(buf *bytes.Buffer, b []byte) {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	buf.Write(lb[:])
	buf.Write(b)
}

func readLenPrefixedString(r *bytes.Reader, maxLen int) (string, error) {
	b, err := readLenPrefixedBytesAny(r)
	if err != nil {
		return "", err
	}
	if len(b) > maxLen {
		return "", fmt.Errorf("length-prefixed string exceeds max %d", maxLen)
	}
	return string(b), nil
}

func readLenPrefixedBytesAny(r *bytes.Reader) ([]byte, error) {
	var lb [4]byte
	if _, err := readFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lb[:])
	if int(n) > r.Len() {
		return nil, fmt.Errorf("length prefix %d exceeds remaining %d bytes", n, r.Len())
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, fmt.Errorf("short read: want %d got %d", len(b), n)
	}
	return n, nil
}
