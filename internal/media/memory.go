package media

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrObjectNotFound is returned by Memory.Get for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// Object is a stored asset held by Memory.
type Object struct {
	ContentType string
	Body        []byte
}

// Memory is an in-process ObjectStore used for development and tests.
type Memory struct {
	mu         sync.RWMutex
	objects    map[string]Object
	publicBase string
}

// NewMemory creates an empty in-memory object store whose URIs start with publicBase.
func NewMemory(publicBase string) *Memory {
	return &Memory{
		objects:    make(map[string]Object),
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Put stores a copy of body under key.
func (m *Memory) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	m.mu.Lock()
	m.objects[key] = Object{ContentType: contentType, Body: bodyCopy}
	m.mu.Unlock()

	return m.publicBase + "/" + key, nil
}

// Get returns the object stored under key.
func (m *Memory) Get(key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	return obj, nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
