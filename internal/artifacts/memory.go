// Package artifacts provides the built-in object store: generated images and
// recipe documents are held in memory and served back under /artifacts/.
// Deployments with real blob storage swap in their own contracts.ObjectStore.
package artifacts

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

type object struct {
	contentType string
	data        []byte
}

// MemoryStore implements contracts.ObjectStore with an in-memory map.
type MemoryStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
}

// NewMemoryStore creates a store whose public URLs hang off baseURL, e.g.
// "http://localhost:8080".
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]object),
	}
}

// Put stores content under name and returns its public URL.
func (m *MemoryStore) Put(_ context.Context, name, contentType string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name is empty")
	}
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.objects[name] = object{contentType: contentType, data: stored}
	m.mu.Unlock()

	log.Debug().Str("name", name).Int("bytes", len(data)).Msg("artifact stored")
	return m.URL(name), nil
}

// Get returns the stored bytes for name.
func (m *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// ContentType returns the stored content type, or false if name is unknown.
func (m *MemoryStore) ContentType(name string) (string, bool) {
	m.mu.RLock()
	obj, ok := m.objects[name]
	m.mu.RUnlock()
	return obj.contentType, ok
}

// URL builds the public URL for name. Path segments are escaped
// individually so nested names like "recipe/out.png" stay nested.
func (m *MemoryStore) URL(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return m.baseURL + "/artifacts/" + strings.Join(parts, "/")
}

// Len reports how many objects are held. For tests and the health endpoint.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
