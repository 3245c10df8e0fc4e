// Package frames implements a keyed, ordered frame container and a
// sequential stream format for persisting frames. A frame maps string keys
// to serializable values in insertion order; the stream format wraps each
// frame in a length/flags/CRC32 envelope so records are independently
// recoverable in write order.
package frames

import (
	"fmt"
	"sort"
	"sync"
)

// TypeCode identifies a concrete Value implementation on the wire.
type TypeCode uint8

// Value is the contract a container implements to be embedded in a frame.
// MarshalFrame must capture a deep snapshot of the container's state:
// mutating the container after the frame has been written must not alter
// the written record. UnmarshalFrame must reconstruct state that compares
// exactly equal to what MarshalFrame saw.
type Value interface {
	FrameType() TypeCode
	MarshalFrame() ([]byte, error)
	UnmarshalFrame(data []byte) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[TypeCode]func() Value)
)

// Register associates a type code with a factory for empty Values of that
// type, for use by Reader. It is expected to be called from an init
// function and panics on a duplicate code.
func Register(code TypeCode, factory func() Value) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[code]; dup {
		panic(fmt.Sprintf("frames: duplicate registration for type code 0x%02x", uint8(code)))
	}
	registry[code] = factory
}

func newValue(code TypeCode) (Value, error) {
	registryMu.RLock()
	factory, ok := registry[code]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("frames: no registered type for code 0x%02x", uint8(code))
	}
	return factory(), nil
}

// Frame is an ordered mapping from string key to Value. Keys preserve
// insertion order; reassigning a key keeps its original position.
type Frame struct {
	keys   []string
	values map[string]Value
}

// NewFrame returns an empty frame.
func NewFrame() *Frame {
	return &Frame{values: make(map[string]Value)}
}

// Set stores v under key.
func (f *Frame) Set(key string, v Value) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

// Get returns the value stored under key.
func (f *Frame) Get(key string) (Value, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Keys returns the frame's keys in insertion order.
func (f *Frame) Keys() []string {
	return append([]string(nil), f.keys...)
}

// SortedKeys returns the frame's keys in lexical order.
func (f *Frame) SortedKeys() []string {
	keys := f.Keys()
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys in the frame.
func (f *Frame) Len() int {
	return len(f.keys)
}
