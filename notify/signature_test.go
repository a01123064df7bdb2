package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/movimientos/ledger"
)

func TestSign_Deterministic(t *testing.T) {
	sig := Sign("secret", "1700000000", []byte("{}"))

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("secret", "1700000000", []byte("{}")))
	assert.NotEqual(t, sig, Sign("other", "1700000000", []byte("{}")))
	assert.NotEqual(t, sig, Sign("secret", "1700000001", []byte("{}")))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"x"}`)
	sig := Sign("secret", "1700000000", body)

	assert.True(t, VerifySignature("secret", "1700000000", body, sig))
	assert.False(t, VerifySignature("secret", "1700000000", []byte(`{"type":"y"}`), sig))
	assert.False(t, VerifySignature("secret", "1700000000", body, ""))
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, CheckTimestamp("1700000000", now, 300*time.Second))
	require.NoError(t, CheckTimestamp("1699999700", now, 300*time.Second))
	require.NoError(t, CheckTimestamp("1700000300", now, 300*time.Second))

	assert.Error(t, CheckTimestamp("1699999699", now, 300*time.Second))
	assert.Error(t, CheckTimestamp("1700000301", now, 300*time.Second))
	assert.Error(t, CheckTimestamp("yesterday", now, 300*time.Second))
}

func TestSlidingWindow(t *testing.T) {
	clock := ledger.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewSlidingWindow(2, time.Minute, clock)

	// GIVEN: two hits inside the window
	assert.True(t, limiter.Allow("app-a"))
	clock.Advance(10 * time.Second)
	assert.True(t, limiter.Allow("app-a"))

	// THEN: the third is refused, other keys are independent
	assert.False(t, limiter.Allow("app-a"))
	assert.True(t, limiter.Allow("app-b"))

	// WHEN: the first hit leaves the window
	clock.Advance(50 * time.Second)
	assert.True(t, limiter.Allow("app-a"))
	assert.False(t, limiter.Allow("app-a"))
}

func TestCursor_RoundTrip(t *testing.T) {
	c := Cursor{
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC),
		ID:         "0b7c7f3e-5d1a-4b1e-9a53-0f3d6f0d7a11",
	}

	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, c.OccurredAt.Equal(got.OccurredAt))
	assert.Equal(t, c.ID, got.ID)

	_, err = DecodeCursor("not base64!")
	assert.Error(t, err)
	_, err = DecodeCursor(c.Encode()[:4])
	assert.Error(t, err)
}
