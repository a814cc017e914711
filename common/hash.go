package common

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/blake2b"
)

// ComputeHash computes the BLAKE2b-256 hash of the given data
func ComputeHash(data []byte) []byte {
	hash := blake2b.Sum256(data)
	return hash[:]
}

// HashProgramID folds a BLAKE2b hash of name into a program id.
func HashProgramID(name string) uint64 {
	hash := blake2b.Sum256([]byte(name))
	return binary.BigEndian.Uint64(hash[:8])
}

// HashReader returns the BLAKE2b-256 digest of everything read from r.
func HashReader(r io.Reader) ([]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
