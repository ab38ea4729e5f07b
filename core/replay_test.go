package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestReplayCacheRejectsDuplicateNonce(t *testing.T) {
	c := clock.NewMock()
	cache := NewReplayCache(600, c)

	nonce := NewNonce()
	if !cache.CheckAndRecord(nonce) {
		t.Fatal("first sighting of a nonce must be accepted")
	}
	if cache.CheckAndRecord(nonce) {
		t.Fatal("second sighting of the same nonce must be rejected")
	}
}

func TestReplayCacheRotationStillCatchesRecentNonce(t *testing.T) {
	c := clock.NewMock()
	cache := NewReplayCache(600, c)

	nonce := NewNonce()
	cache.CheckAndRecord(nonce)

	// Advance past one window: rotation moves "current" into "previous".
	c.Add(601 * time.Second)
	if cache.CheckAndRecord(nonce) {
		t.Fatal("nonce seen just before rotation must still be caught via the previous generation")
	}
}

func TestReplayCacheForgetsNonceAfterTwoWindows(t *testing.T) {
	c := clock.NewMock()
	cache := NewReplayCache(600, c)

	nonce := NewNonce()
	cache.CheckAndRecord(nonce)

	c.Add(601 * time.Second) // rotate once: nonce now in "previous"
	c.Add(601 * time.Second) // rotate again: nonce falls out of both generations

	if !cache.CheckAndRecord(nonce) {
		t.Fatal("nonce should be forgotten after two full rotations")
	}
}
