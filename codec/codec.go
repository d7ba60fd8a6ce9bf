// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package codec implements pluggable payload compression for queue messages.
// A codec is identified by its Method, which is persisted with every message,
// so readers can decode messages regardless of their own settings.
package codec

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Method identifies a compression algorithm. Values are stored on disk and must not change.
type Method uint32

const (
	// None means the payload is stored as is.
	None Method = 0
	// Gzip is gzip compression.
	Gzip Method = 1
	// Zstd is zstandard compression.
	Zstd Method = 2
	// S2 is s2 (snappy compatible) compression.
	S2 Method = 3
)

// Level is a method-specific compression level. 0 selects the default level.
type Level int

// Codec compresses and decompresses message payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	Method() Method
	// Encode appends compressed src to dst[:0].
	Encode(dst, src []byte) ([]byte, error)
	// Decode appends decompressed src to dst[:0]. rawLen is the expected decoded length.
	Decode(dst, src []byte, rawLen int) ([]byte, error)
	Close() error
}

// String returns method's name.
func (m Method) String() string {
	switch m {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "unknown"
	}
}

// Valid returns true for known methods.
func (m Method) Valid() bool {
	return m <= S2
}

// ParseMethod parses a method name.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "s2", "snappy":
		return S2, nil
	default:
		return None, errors.Errorf("unsupported compression method: %s", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for Method.
func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Method.
func (m Method) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// New returns a codec for the method.
func New(method Method, level Level) (Codec, error) {
	switch method {
	case None:
		return noneCodec{}, nil
	case Gzip:
		return newGzipCodec(level)
	case Zstd:
		return newZstdCodec(level)
	case S2:
		return newS2Codec(level), nil
	default:
		return nil, errors.Errorf("unknown compression method %d", method)
	}
}

// Registry lazily creates and caches codecs by method.
// It is used by readers, which must decode any method found in the queue.
type Registry struct {
	mu     sync.Mutex
	level  Level
	codecs map[Method]Codec
}

// NewRegistry returns a registry, which creates codecs with the given level.
func NewRegistry(level Level) *Registry {
	return &Registry{level: level, codecs: make(map[Method]Codec)}
}

// Get returns a cached codec for the method, creating it if needed.
func (r *Registry) Get(method Method) (Codec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.codecs[method]; ok {
		return c, nil
	}
	c, err := New(method, r.level)
	if err != nil {
		return nil, err
	}
	r.codecs[method] = c
	return c, nil
}

// Close closes all cached codecs.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for method, c := range r.codecs {
		if err := c.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close %s codec", method)
		}
		delete(r.codecs, method)
	}
	return first
}

func checkDecodedLen(method Method, got, want int) error {
	if want >= 0 && got != want {
		return errors.Errorf("%s: decoded %d bytes, expected %d", method, got, want)
	}
	return nil
}

type noneCodec struct{}

func (noneCodec) Method() Method { return None }

func (noneCodec) Encode(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (noneCodec) Decode(dst, src []byte, rawLen int) ([]byte, error) {
	if err := checkDecodedLen(None, len(src), rawLen); err != nil {
		return nil, err
	}
	return append(dst[:0], src...), nil
}

func (noneCodec) Close() error { return nil }
