package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Gateways sign ingest requests instead of carrying JWTs: the signature is an
// HMAC-SHA256 over the timestamp header, a newline and the raw body, hex
// encoded.
const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"
)

// IngestAuthMiddleware verifies gateway request signatures. MaxSkew bounds how
// stale a signed timestamp may be; zero disables the staleness check.
type IngestAuthMiddleware struct {
	Secret  []byte
	MaxSkew time.Duration
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration) *IngestAuthMiddleware {
	return &IngestAuthMiddleware{Secret: secret, MaxSkew: maxSkew}
}

// Wrap rejects requests whose signature headers are missing, stale or wrong.
// The body is re-readable by the wrapped handler.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.Secret) == 0 {
			http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		if reason, ok := m.verify(r, body); !ok {
			http.Error(w, reason, http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// verify checks the signature headers against the request body. It returns a
// client-safe reason when verification fails.
func (m *IngestAuthMiddleware) verify(r *http.Request, body []byte) (string, bool) {
	timestamp := strings.TrimSpace(r.Header.Get(HeaderIngestTimestamp))
	signature := strings.TrimSpace(r.Header.Get(HeaderIngestSignature))
	if timestamp == "" || signature == "" {
		return "missing ingest signature", false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "invalid ingest timestamp", false
	}
	if m.MaxSkew > 0 {
		skew := time.Since(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > m.MaxSkew {
			return "ingest signature expired", false
		}
	}
	expected := computeIngestSignature(m.Secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return "invalid ingest signature", false
	}
	return "", true
}

func computeIngestSignature(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
