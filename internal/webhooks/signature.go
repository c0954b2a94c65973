package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignHMAC returns the X-Signature header value "t=<unix>,v1=<hex>", an
// HMAC-SHA256 over "<unix>.<body>".
func SignHMAC(secret string, ts time.Time, body []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + mac(secret, unix, body)
}

// VerifyHMAC checks a header produced by SignHMAC and rejects signatures
// older than maxAge.
func VerifyHMAC(secret string, body []byte, header string, now time.Time, maxAge time.Duration) error {
	var unix, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			unix = v
		case "v1":
			sig = v
		}
	}
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil || sig == "" {
		return fmt.Errorf("malformed signature header")
	}
	if maxAge > 0 && now.Sub(time.Unix(sec, 0)) > maxAge {
		return fmt.Errorf("signature expired")
	}
	want, _ := hex.DecodeString(mac(secret, unix, body))
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func mac(secret, unix string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(unix))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}
