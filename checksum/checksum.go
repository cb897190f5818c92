// Package checksum computes artifact digests and checks them against the
// sidecar files published next to each artifact.
package checksum

import (
	"crypto/md5"  //nolint:gosec // maven sidecars still use md5
	"crypto/sha1" //nolint:gosec // and sha1
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Algorithm names a digest algorithm. The value doubles as the sidecar file
// extension without the dot.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// DefaultAlgorithms are the sidecars fetched alongside every remote file.
var DefaultAlgorithms = []Algorithm{SHA1, MD5}

// ErrMismatch is the sentinel wrapped by MismatchError.
var ErrMismatch = errors.New("checksum mismatch")

// ErrUnsupported is returned for unknown algorithm names.
var ErrUnsupported = errors.New("unsupported checksum algorithm")

// Extension returns the sidecar file suffix, e.g. ".sha1".
func (a Algorithm) Extension() string {
	return "." + string(a)
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil //nolint:gosec
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA256:
		return digest.SHA256.Hash(), nil
	case SHA512:
		return digest.SHA512.Hash(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, a)
	}
}

// ParseAlgorithm maps a name such as "SHA-256" or "sha1" to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	n := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	switch Algorithm(n) {
	case MD5, SHA1, SHA256, SHA512:
		return Algorithm(n), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, name)
}

// AlgorithmForPath returns the algorithm whose sidecar extension p carries.
func AlgorithmForPath(p string) (Algorithm, bool) {
	for _, a := range []Algorithm{MD5, SHA1, SHA256, SHA512} {
		if strings.HasSuffix(p, a.Extension()) {
			return a, true
		}
	}
	return "", false
}

// Sums maps each algorithm to its lowercase hex digest.
type Sums map[Algorithm]string

// Compute hashes r once, feeding every requested algorithm.
func Compute(r io.Reader, algs ...Algorithm) (Sums, error) {
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	hashes := make(map[Algorithm]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, a := range algs {
		if _, ok := hashes[a]; ok {
			continue
		}
		h, err := a.New()
		if err != nil {
			return nil, err
		}
		hashes[a] = h
		writers = append(writers, h)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, fmt.Errorf("hashing: %w", err)
	}
	sums := make(Sums, len(hashes))
	for a, h := range hashes {
		sums[a] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

// ParseSidecar extracts the digest from sidecar content. Both the plain
// "<hex>  <file>" form and the BSD "MD5 (file) = <hex>" form are accepted.
func ParseSidecar(data []byte) (string, error) {
	s := strings.TrimSpace(string(data))
	if i := strings.LastIndex(s, " = "); i >= 0 && strings.Contains(s[:i], "(") {
		s = strings.TrimSpace(s[i+3:])
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", errors.New("empty checksum file")
	}
	sum := strings.ToLower(fields[0])
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("malformed checksum %q", fields[0])
	}
	return sum, nil
}

// MismatchError reports a digest that differs from its sidecar.
type MismatchError struct {
	Path      string
	Algorithm Algorithm
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s checksum mismatch for %s: expected %s, got %s", e.Algorithm, e.Path, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error {
	return ErrMismatch
}

// Verify hashes r with every algorithm in expected and compares the results
// case-insensitively. The first mismatch, in algorithm name order, is
// returned.
func Verify(name string, r io.Reader, expected map[Algorithm]string) (Sums, error) {
	algs := make([]Algorithm, 0, len(expected))
	for a := range expected {
		algs = append(algs, a)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })

	sums, err := Compute(r, algs...)
	if err != nil {
		return nil, err
	}
	for _, a := range algs {
		want := strings.ToLower(strings.TrimSpace(expected[a]))
		if sums[a] != want {
			return sums, &MismatchError{Path: name, Algorithm: a, Expected: want, Actual: sums[a]}
		}
	}
	return sums, nil
}
