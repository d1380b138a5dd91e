// Package checksum computes and verifies SHA-256 content digests for
// attachment bytes. Digests are lowercase hex.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/docsync/internal/common"
)

// MismatchError reports a digest or size that does not match what was
// recorded at upload time. It matches common.ErrIntegrity.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool { return target == common.ErrIntegrity }

// Sum returns the digest of everything read from r and the byte count.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SumBytes returns the digest of b.
func SumBytes(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

// SumFile returns the digest and size of the file at path.
func SumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("checksum open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}

// Verify compares a computed digest with the expected one. An empty
// expected value means nothing was recorded and always passes.
func Verify(path, expected, actual string) error {
	if expected == "" || strings.EqualFold(expected, actual) {
		return nil
	}
	return &MismatchError{Path: path, Expected: expected, Actual: actual}
}

// VerifyFile hashes path and compares it with expected.
func VerifyFile(path, expected string) error {
	actual, _, err := SumFile(path)
	if err != nil {
		return err
	}
	return Verify(path, expected, actual)
}

// Writer hashes bytes as they are written through it.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

func (cw *Writer) Sum() string { return hex.EncodeToString(cw.h.Sum(nil)) }

func (cw *Writer) Size() int64 { return cw.n }
