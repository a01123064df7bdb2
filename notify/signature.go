package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const signaturePrefix = "sha256="

// Sign returns the X-Signature value for a timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(secret, timestamp string, body []byte, provided string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(provided))
}

var errTimestampWindow = errors.New("timestamp outside window")

// CheckTimestamp parses unix seconds and rejects values further than window from now.
func CheckTimestamp(timestamp string, now time.Time, window time.Duration) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return err
	}
	skew := now.Sub(time.Unix(sec, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > window {
		return errTimestampWindow
	}
	return nil
}
