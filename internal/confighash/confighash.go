// Package confighash content-addresses configurations. Configurations are
// serialized to JSON, which orders map keys, and digested with SHA-1.
package confighash

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key identifies a trial by the digests of its pipeline configuration, its
// algorithm configuration and the pair of them.
type Key struct {
	Pipeline  string `json:"pipeline"`
	Algorithm string `json:"algorithm"`
	Config    string `json:"config"`
}

// Canonical returns the canonical serialization of v.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("serializing config: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the hex SHA-1 of the canonical serialization of v.
func Hash(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return digest(data), nil
}

// Compute derives the identity key of a pipeline/algorithm pair.
func Compute(pipeline, algorithm any) (Key, error) {
	p, err := Hash(pipeline)
	if err != nil {
		return Key{}, fmt.Errorf("hashing pipeline config: %w", err)
	}
	a, err := Hash(algorithm)
	if err != nil {
		return Key{}, fmt.Errorf("hashing algorithm config: %w", err)
	}
	return Key{Pipeline: p, Algorithm: a, Config: digest([]byte(p + a))}, nil
}

func digest(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
