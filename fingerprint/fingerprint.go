// Package fingerprint computes content-derived digests used to detect
// duplicate uploads. Fingerprints are equality checks, not security
// credentials: two files with identical bytes always produce the same
// fingerprint, regardless of path or modification time.
package fingerprint

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

// ErrSourceUnavailable indicates the file vanished or became unreadable
// before or during hashing. Callers should skip the file rather than retry.
var ErrSourceUnavailable = errors.New("source unavailable")

// File streams the file at path through the hash and returns its
// fingerprint as a 32-character hex string. The file is read exactly once
// and the handle is released before returning, even on error.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, bufio.NewReader(f)); err != nil {
		return "", fmt.Errorf("%w: %s: read failed: %v", ErrSourceUnavailable, path, err)
	}

	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Bytes returns the fingerprint of an in-memory byte slice. Used by tests
// and by callers that already hold the content.
func Bytes(data []byte) string {
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}
