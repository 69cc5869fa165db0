package fetch

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"
)

var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha512": sha512.New,
	"md5":    md5.New,
}

// parseChecksum splits "algo:hex".  A bare digest is identified by
// its length.
func parseChecksum(sum string) (string, string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if algo, digest, ok := strings.Cut(sum, ":"); ok {
		if _, known := algorithms[algo]; !known {
			return "", "", ErrBadChecksum{sum}
		}
		return algo, digest, nil
	}
	switch len(sum) {
	case 64:
		return "sha256", sum, nil
	case 128:
		return "sha512", sum, nil
	case 32:
		return "md5", sum, nil
	}
	return "", "", ErrBadChecksum{sum}
}

// Verify checks path against sum.  An empty sum always passes.
func Verify(path, sum string) error {
	if sum == "" {
		return nil
	}
	algo, want, err := parseChecksum(sum)
	if err != nil {
		return err
	}
	got, err := Digest(path, algo)
	if err != nil {
		return err
	}
	if got != want {
		return ErrChecksum{File: path, Want: want, Got: got}
	}
	return nil
}

// Digest hashes the file at path with the named algorithm.
func Digest(path, algo string) (string, error) {
	mk, ok := algorithms[algo]
	if !ok {
		return "", ErrBadChecksum{algo}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := mk()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
