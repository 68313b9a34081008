package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// Page is the outcome of one successful transfer. Non-2xx responses are still
// pages; only transport failures are errors.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
}

// Match is the notification payload published when a page contains the
// search expression.
type Match struct {
	RunID      string    `json:"run_id"`
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url,omitempty"`
	Expression string    `json:"expression"`
	StatusCode int       `json:"status"`
	Worker     int       `json:"worker"`
	FoundAt    time.Time `json:"found_at"`

	// ContentSHA256 is the hex digest of the body that was searched.
	ContentSHA256 string `json:"content_sha256,omitempty"`
}

// Digest returns the hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// StatusClass buckets an HTTP status into "2xx", "3xx", ... for metrics.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return string(rune('0'+code/100)) + "xx"
}
