package artifact

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/sourceplane/fareflow/internal/errs"
)

// Store reads and writes artifacts addressed by s3://bucket/key URIs.
// Get returns an error matching errs.ErrNotFound when the object is absent.
type Store interface {
	Get(ctx context.Context, uri string) ([]byte, error)
	Put(ctx context.Context, uri string, data []byte) error
}

// ParseURI splits s3://bucket/key into bucket and key
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errs.NewValidationError("artifact uri", fmt.Sprintf("%q: %v", uri, err))
	}
	if u.Scheme != "s3" {
		return "", "", errs.NewValidationError("artifact uri", fmt.Sprintf("%q: scheme must be s3", uri))
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errs.NewValidationError("artifact uri", fmt.Sprintf("%q: bucket and key are required", uri))
	}
	return u.Host, key, nil
}

// JoinURI appends path elements to a location, keeping a single separator
func JoinURI(base string, elems ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elems {
		out += "/" + strings.Trim(e, "/")
	}
	return out
}

// MemoryStore keeps artifacts in a map
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	reads   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		reads:   make(map[string]int),
	}
}

func (s *MemoryStore) Get(_ context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[uri]++
	data, ok := s.objects[uri]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", uri, errs.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(_ context.Context, uri string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = append([]byte(nil), data...)
	return nil
}

// Reads reports how many times uri was read
func (s *MemoryStore) Reads(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[uri]
}
