package core

import "testing"

func testEnvelope() *AuthenticatedEnvelope {
	return &AuthenticatedEnvelope{
		Version:       EnvelopeVersion,
		CorrelationID: NewCorrelationID(),
		ReplyTo:       "reply:abc",
		SenderID:      SubsystemConsensus,
		RecipientID:   SubsystemStorage,
		Timestamp:     Now(),
		Nonce:         NewNonce(),
		PayloadType:   PayloadBlockValidated,
		Payload:       []byte("hello world"),
	}
}

func TestEnvelopeSignVerifyRoundTrip(t *testing.T) {
	key := []byte("super-secret-hmac-key")
	env := testEnvelope()
	env.Sign(key)

	if !env.VerifySignature(key) {
		t.Fatal("expected signature to verify under the signing key")
	}
	if env.VerifySignature([]byte("wrong-key")) {
		t.Fatal("signature must not verify under a different key")
	}

	encoded := env.Encode()
	decoded, err := DecodeEnvelope(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.VerifySignature(key) {
		t.Fatal("decoded envelope must still verify")
	}
	if decoded.PayloadType != env.PayloadType || string(decoded.Payload) != string(env.Payload) {
		t.Fatal("decoded envelope does not match original")
	}
}

func TestEnvelopeTamperedPayloadFailsVerification(t *testing.T) {
	key := []byte("super-secret-hmac-key")
	env := testEnvelope()
	env.Sign(key)
	env.Payload = []byte("tampered")

	if env.VerifySignature(key) {
		t.Fatal("tampered payload must fail signature verification")
	}
}

func TestDecodeEnvelopeRejectsNonCanonicalEncoding(t *testing.T) {
	key := []byte("super-secret-hmac-key")
	env := testEnvelope()
	env.Sign(key)
	encoded := env.Encode()

	// Append trailing garbage: round-trip re-encode cannot reproduce it.
	tampered := append(encoded, 0xFF)
	if _, err := DecodeEnvelope(tampered); err == nil {
		t.Fatal("expected rejection of an envelope with trailing bytes")
	}
}
