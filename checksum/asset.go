package checksum

import (
	"bytes"
	"fmt"
	"io"

	"github.com/git-pkgs/repositories/storage"
)

// ComputeAsset hashes the content of an asset.
func ComputeAsset(s storage.Storage, a *storage.Asset, readLock bool, algs ...Algorithm) (Sums, error) {
	var sums Sums
	err := s.ConsumeData(a, func(r io.Reader) error {
		var err error
		sums, err = Compute(r, algs...)
		return err
	}, readLock)
	if err != nil {
		return nil, err
	}
	return sums, nil
}

// ReadSidecar parses the digest stored in a sidecar asset.
func ReadSidecar(s storage.Storage, a *storage.Asset, readLock bool) (string, error) {
	var buf bytes.Buffer
	err := s.ConsumeData(a, func(r io.Reader) error {
		_, err := io.Copy(&buf, io.LimitReader(r, 4096))
		return err
	}, readLock)
	if err != nil {
		return "", err
	}
	sum, err := ParseSidecar(buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.Path(), err)
	}
	return sum, nil
}

// VerifyAsset checks an asset against the given sidecar assets.
func VerifyAsset(s storage.Storage, a *storage.Asset, sidecars map[Algorithm]*storage.Asset, readLock bool) (Sums, error) {
	expected := make(map[Algorithm]string, len(sidecars))
	for alg, sc := range sidecars {
		sum, err := ReadSidecar(s, sc, readLock)
		if err != nil {
			return nil, err
		}
		expected[alg] = sum
	}
	var sums Sums
	err := s.ConsumeData(a, func(r io.Reader) error {
		var err error
		sums, err = Verify(a.Path(), r, expected)
		return err
	}, readLock)
	return sums, err
}

// WriteSidecars stores a sidecar next to the asset for each algorithm.
func WriteSidecars(s storage.Storage, a *storage.Asset, writeLock bool, algs ...Algorithm) error {
	sums, err := ComputeAsset(s, a, writeLock, algs...)
	if err != nil {
		return err
	}
	for alg, sum := range sums {
		sc := s.Asset(a.Path() + alg.Extension())
		err := s.WriteData(sc, func(w io.Writer) error {
			_, err := io.WriteString(w, sum)
			return err
		}, writeLock)
		if err != nil {
			return err
		}
	}
	return nil
}
