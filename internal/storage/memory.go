package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInjected is the error returned for operations registered with
// FailOn.
var ErrInjected = errors.New("injected storage failure")

// Op names a gateway operation for failure injection.
type Op string

const (
	OpUpload   Op = "upload"
	OpDownload Op = "download"
	OpMove     Op = "move"
	OpExists   Op = "exists"
	OpList     Op = "list"
	OpRemove   Op = "remove"
	OpSign     Op = "sign"
)

type memObject struct {
	body        []byte
	contentType string
}

// MemoryGateway is an in-process Gateway used by tests and by
// STORAGE_DRIVER=memory.  FailOn makes chosen operations fail for keys
// with a given prefix.
type MemoryGateway struct {
	mu       sync.RWMutex
	objects  map[string]memObject
	failures map[Op][]string
	moves    int
}

// NewMemoryGateway returns an empty store.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{objects: map[string]memObject{}, failures: map[Op][]string{}}
}

// FailOn makes op fail with ErrInjected whenever its key (the source key
// for Move, the prefix for List) starts with prefix.
func (m *MemoryGateway) FailOn(op Op, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], prefix)
}

func (m *MemoryGateway) failing(op Op, key string) bool {
	for _, p := range m.failures[op] {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Upload stores a copy of body.
func (m *MemoryGateway) Upload(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing(OpUpload, key) {
		return fmt.Errorf("upload %s: %w", key, ErrInjected)
	}
	m.objects[key] = memObject{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

// Download returns a copy of the stored bytes.
func (m *MemoryGateway) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing(OpDownload, key) {
		return nil, fmt.Errorf("download %s: %w", key, ErrInjected)
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

// Move renames from to to.
func (m *MemoryGateway) Move(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing(OpMove, from) {
		return fmt.Errorf("move %s: %w", from, ErrInjected)
	}
	obj, ok := m.objects[from]
	if !ok {
		return fmt.Errorf("move %s: %w", from, ErrObjectNotFound)
	}
	m.objects[to] = obj
	delete(m.objects, from)
	m.moves++
	return nil
}

// Exists reports whether key is stored.
func (m *MemoryGateway) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing(OpExists, key) {
		return false, fmt.Errorf("stat %s: %w", key, ErrInjected)
	}
	_, ok := m.objects[key]
	return ok, nil
}

// List returns the sorted keys under prefix.
func (m *MemoryGateway) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing(OpList, prefix) {
		return nil, fmt.Errorf("list %s: %w", prefix, ErrInjected)
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove deletes keys; missing keys are ignored.
func (m *MemoryGateway) Remove(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, k := range keys {
		if m.failing(OpRemove, k) {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, ErrInjected))
			continue
		}
		delete(m.objects, k)
	}
	return errors.Join(errs...)
}

// SignedURL returns a fake URL carrying the key and expiry.
func (m *MemoryGateway) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failing(OpSign, key) {
		return "", fmt.Errorf("sign %s: %w", key, ErrInjected)
	}
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("sign %s: %w", key, ErrObjectNotFound)
	}
	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory://bucket/" + key + "?" + q.Encode(), nil
}

// Keys returns every stored key, sorted.
func (m *MemoryGateway) Keys() []string {
	keys, _ := m.List(context.Background(), "")
	return keys
}

// Moves returns how many successful Move calls were made.
func (m *MemoryGateway) Moves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.moves
}
