package trail

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// Keys are the process-held secrets of a store. They are fixed for the
// lifetime of the store; there is no rotation.
type Keys struct {
	Signing    []byte
	Encryption []byte
}

// DeriveKeys expands secret into independent signing and encryption keys.
// An empty secret yields random keys, so signatures do not survive a restart.
func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return randomKeys()
	}
	signing, err := expand(secret, "audit-trail/signing")
	if err != nil {
		return Keys{}, err
	}
	encryption, err := expand(secret, "audit-trail/encryption")
	if err != nil {
		return Keys{}, err
	}
	return Keys{Signing: signing, Encryption: encryption}, nil
}

func expand(secret, info string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), []byte("audit-trail"), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

func randomKeys() (Keys, error) {
	k := Keys{Signing: make([]byte, keySize), Encryption: make([]byte, keySize)}
	if _, err := rand.Read(k.Signing); err != nil {
		return Keys{}, fmt.Errorf("generate signing key: %w", err)
	}
	if _, err := rand.Read(k.Encryption); err != nil {
		return Keys{}, fmt.Errorf("generate encryption key: %w", err)
	}
	return k, nil
}

// CanonicalJSON re-encodes v with object keys sorted at every depth.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// EventHash is the SHA-256 of the canonical event without currentHash and integrity.
func EventHash(e AuditEvent) (string, error) {
	e.CurrentHash = ""
	e.Integrity = nil
	canon, err := CanonicalJSON(e)
	if err != nil {
		return "", fmt.Errorf("canonicalize event %s: %w", e.ID, err)
	}
	return hashBytes(canon), nil
}

func sign(key []byte, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(key []byte, data []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), want)
}

func witnessHash(eventHash string, at time.Time) string {
	return hashBytes([]byte(eventHash + strconv.FormatInt(at.UnixMilli(), 10)))
}

// Checksum hashes strings and byte slices directly and anything else as JSON.
func Checksum(v any) string {
	switch t := v.(type) {
	case string:
		return hashBytes([]byte(t))
	case []byte:
		return hashBytes(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return hashBytes(b)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
