package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACAuth_HeadersRoundTrip(t *testing.T) {
	auth := &HMACAuth{Key: "desk-1", Secret: "s3cret"}
	body := []byte(`{"setup":{}}`)
	ts := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	h := auth.HeadersAt("POST", "/decide", body, ts.Unix())
	require.Len(t, h, 3)
	assert.Equal(t, "desk-1", h[HeaderKey])
	assert.Equal(t, "1710244800", h[HeaderTimestamp])

	again := auth.HeadersAt("POST", "/decide", body, ts.Unix())
	assert.Equal(t, h[HeaderSignature], again[HeaderSignature], "deterministic")

	assert.True(t, auth.Verify("POST", "/decide", body, h[HeaderTimestamp], h[HeaderSignature], ts.Add(10*time.Second), time.Minute))
}

func TestHMACAuth_VerifyRejects(t *testing.T) {
	auth := &HMACAuth{Key: "desk-1", Secret: "s3cret"}
	body := []byte("payload")
	ts := time.Unix(1710244800, 0)
	h := auth.HeadersAt("POST", "/decide", body, ts.Unix())
	sig, stamp := h[HeaderSignature], h[HeaderTimestamp]

	assert.False(t, auth.Verify("POST", "/decide", []byte("tampered"), stamp, sig, ts, time.Minute))
	assert.False(t, auth.Verify("GET", "/decide", body, stamp, sig, ts, time.Minute))
	assert.False(t, auth.Verify("POST", "/decide", body, stamp, sig, ts.Add(2*time.Minute), time.Minute), "stale")
	assert.False(t, auth.Verify("POST", "/decide", body, "yesterday", sig, ts, time.Minute))

	other := &HMACAuth{Key: "desk-1", Secret: "different"}
	assert.False(t, other.Verify("POST", "/decide", body, stamp, sig, ts, time.Minute))
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "desk-1234", Secret: "abc"}
	assert.Equal(t, "HMACAuth{key=desk****, secret=****}", auth.String())
}
