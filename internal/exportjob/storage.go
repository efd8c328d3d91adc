package exportjob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/atomicfile"
)

var ErrObjectNotFound = errors.New("object not found")

type Storage interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	GetSignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// URLSigner produces expiring links whose sig parameter is an HMAC over the
// path and expiry.
type URLSigner struct {
	Scheme string
	Host   string
	Key    []byte
	now    func() time.Time
}

func (u URLSigner) Sign(key string, ttl time.Duration) string {
	now := time.Now
	if u.now != nil {
		now = u.now
	}
	exp := now().UTC().Add(ttl).Unix()
	path := "/" + strings.TrimPrefix(key, "/")
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", u.mac(path, exp))
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: path, RawQuery: q.Encode()}
	return out.String()
}

// Verify reports whether raw was produced by Sign and has not expired.
func (u URLSigner) Verify(raw string, at time.Time) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	exp, err := strconv.ParseInt(parsed.Query().Get("exp"), 10, 64)
	if err != nil || at.Unix() > exp {
		return false
	}
	return hmac.Equal([]byte(parsed.Query().Get("sig")), []byte(u.mac(parsed.Path, exp)))
}

func (u URLSigner) mac(path string, exp int64) string {
	h := hmac.New(sha256.New, u.Key)
	fmt.Fprintf(h, "%s|%d", path, exp)
	return hex.EncodeToString(h.Sum(nil))
}

type InMemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	signer URLSigner
}

func NewInMemoryStorage(signer URLSigner) *InMemoryStorage {
	if signer.Scheme == "" {
		signer.Scheme = "https"
	}
	if signer.Host == "" {
		signer.Host = "storage.local"
	}
	return &InMemoryStorage{data: map[string][]byte{}, signer: signer}
}

func (s *InMemoryStorage) PutObject(ctx context.Context, key string, body []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), body...)
	return ctx.Err()
}

func (s *InMemoryStorage) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *InMemoryStorage) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *InMemoryStorage) GetSignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", ErrObjectNotFound
	}
	return s.signer.Sign(key, ttl), nil
}

// DirStorage keeps objects as files below root. Writes go through a temp
// file and rename, so a reader never sees a partial artifact.
type DirStorage struct {
	root   string
	signer URLSigner
}

func NewDirStorage(root string, signer URLSigner) (*DirStorage, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	if signer.Scheme == "" {
		signer.Scheme = "file"
	}
	return &DirStorage{root: root, signer: signer}, nil
}

// path resolves key below root; cleaning it as an absolute path drops any
// leading "..", so keys cannot escape the directory.
func (s *DirStorage) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty object key")
	}
	clean := filepath.Clean("/" + key)
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirStorage) PutObject(ctx context.Context, key string, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return writeAtomic(p, bytes.NewReader(body))
}

// writeAtomic publishes p only after r is fully copied; on failure the
// temporary file is removed and p is left as it was.
func writeAtomic(p string, r io.Reader) error {
	f, err := atomicfile.New(p, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		return errors.Join(err, f.Abort())
	}
	return f.Close()
}

func (s *DirStorage) GetObject(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return b, err
}

func (s *DirStorage) DeleteObject(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DirStorage) GetSignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", ErrObjectNotFound
	}
	return s.signer.Sign(filepath.ToSlash(p), ttl), nil
}
