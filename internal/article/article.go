// Package article defines the raw news/event input read from the ingest queue.
package article

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrInvalid is returned by Decode for payloads that can never be processed.
var ErrInvalid = errors.New("invalid article")

// RawArticle is a fetched source article. Immutable once read from the queue.
type RawArticle struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SourceURL string    `json:"source_url"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fingerprint returns the dedup/idempotency key for the article.
func (a *RawArticle) Fingerprint() string {
	return Fingerprint(a.SourceURL, a.Title)
}

// Fingerprint hashes a source URL and title into a stable hex key.
func Fingerprint(sourceURL, title string) string {
	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte{'\n'})
	h.Write([]byte(title))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate reports whether the article carries enough to be extracted.
func (a *RawArticle) Validate() error {
	if strings.TrimSpace(a.SourceURL) == "" {
		return fmt.Errorf("%w: source_url is required", ErrInvalid)
	}
	if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Content) == "" {
		return fmt.Errorf("%w: title or content is required", ErrInvalid)
	}
	return nil
}

// Decode parses a queue payload into a RawArticle.
func Decode(data []byte) (*RawArticle, error) {
	var a RawArticle
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
