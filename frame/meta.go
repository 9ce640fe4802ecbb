package frame

import (
	"sort"
	"sync"
)

// MetaKey identifies a metadata entry.
type MetaKey uint32

// Well-known keys. Plugins may define their own above MetaKeyUser.
const (
	MetaKeyWidth MetaKey = iota + 1
	MetaKeyHeight
	MetaKeyHorStride
	MetaKeyVerStride
	MetaKeyFormat
	MetaKeyPTS
	MetaKeyDTS
	MetaKeyPOC
	MetaKeyFlags
	MetaKeyErrInfo

	// MetaKeyUser is the first key free for plugin use.
	MetaKeyUser MetaKey = 0x1000
)

// Meta is a typed key/value store attached to frames and packets.
// It is safe for concurrent use.
type Meta struct {
	mu    sync.RWMutex
	ints  map[MetaKey]int64
	bytes map[MetaKey][]byte
}

// NewMeta returns an empty store.
func NewMeta() *Meta {
	return &Meta{
		ints:  make(map[MetaKey]int64),
		bytes: make(map[MetaKey][]byte),
	}
}

// SetInt stores an integer value.
func (m *Meta) SetInt(key MetaKey, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] = v
}

// Int returns the integer stored under key.
func (m *Meta) Int(key MetaKey) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ints[key]
	return v, ok
}

// SetBytes stores a copy of v.
func (m *Meta) SetBytes(key MetaKey, v []byte) {
	cp := make([]byte, len(v))
	copy(cp, v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[key] = cp
}

// Bytes returns the bytes stored under key. The slice must not be modified.
func (m *Meta) Bytes(key MetaKey) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bytes[key]
	return v, ok
}

// Delete removes key from both value spaces.
func (m *Meta) Delete(key MetaKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ints, key)
	delete(m.bytes, key)
}

// Keys returns every key in ascending order.
func (m *Meta) Keys() []MetaKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]MetaKey, 0, len(m.ints)+len(m.bytes))
	for k := range m.ints {
		keys = append(keys, k)
	}
	for k := range m.bytes {
		if _, dup := m.ints[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of keys.
func (m *Meta) Len() int {
	return len(m.Keys())
}
