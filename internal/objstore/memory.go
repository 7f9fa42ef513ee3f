package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process store used by tests and the
// single-binary development mode.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

var _ Adapter = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

// Put stores a copy of data under key, replacing any previous object.
func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[key] = memObject{data: buf, contentType: contentType, modified: time.Now().UTC()}
	m.mu.Unlock()

	return nil
}

// Get returns a copy of the object stored under key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}

	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()

	if !ok {
		return nil, &AdapterError{Op: "get", Key: key, Err: ErrNotFound}
	}

	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)

	return buf, nil
}

// Head returns size and modification time without the payload.
func (m *Memory) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: err}
	}

	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()

	if !ok {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: ErrNotFound}
	}

	return ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

// List returns every object whose key starts with prefix, sorted by
// key.
func (m *Memory) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AdapterError{Op: "list", Key: prefix, Err: err}
	}

	m.mu.RLock()
	infos := make([]ObjectInfo, 0, len(m.objects))
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return infos, nil
}

// Delete removes key. Missing keys are not an error.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &AdapterError{Op: "delete", Key: key, Err: err}
	}

	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()

	return nil
}

// DeleteAll removes every listed key.
func (m *Memory) DeleteAll(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

// Len reports the number of stored objects. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}
