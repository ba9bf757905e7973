// Package webhook receives asynchronous provider callbacks and reconciles
// them into the ledger.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Signature and timestamp headers sent by the transfer providers.
const (
	SignatureHeader = "X-Payrail-Signature"
	TimestampHeader = "X-Payrail-Timestamp"
)

// maxSignatureAge bounds the replay window for signed callbacks.
const maxSignatureAge = 5 * time.Minute

// VerifySignature checks a provider callback's HMAC signature. The signed
// payload is "v1:<timestamp>:<body>" and the header carries
// "v1=<hex hmac-sha256>". Comparison is constant-time.
func VerifySignature(r *http.Request, body []byte, secret string) bool {
	timestamp := r.Header.Get(TimestampHeader)
	signature := r.Header.Get(SignatureHeader)

	if timestamp == "" || signature == "" {
		return false
	}

	// Reject stale timestamps to limit replay.
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Now().Unix() - ts
	if age > int64(maxSignatureAge.Seconds()) || age < -int64(maxSignatureAge.Seconds()) {
		return false
	}

	sigBase := fmt.Sprintf("v1:%s:%s", timestamp, string(body))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sigBase))
	expectedSig := "v1=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// Sign computes the signature header value for a payload, used by tests and
// by providers integrating against this service.
func Sign(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v1:%s:%s", timestamp, string(body))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}
