package service

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Anonymizer maps tenant and employee ids to keyed one-way hashes.
type Anonymizer struct {
	key []byte
}

// NewAnonymizer creates an Anonymizer. An empty key yields plain BLAKE2b
// hashes; keys longer than 64 bytes are truncated.
func NewAnonymizer(key string) *Anonymizer {
	k := []byte(key)
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return &Anonymizer{key: k}
}

// Hash returns the anonymized form of id. The empty id stays empty.
func (a *Anonymizer) Hash(id string) string {
	if id == "" {
		return ""
	}
	h, err := blake2b.New256(a.key)
	if err != nil {
		// Only reachable with an oversized key, which NewAnonymizer prevents.
		panic(err)
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
