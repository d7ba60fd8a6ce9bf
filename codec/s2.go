// Copyright 2016 Aleksandr Demakin. All rights reserved.

package codec

import (
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

type s2Codec struct {
	better bool
}

// levels above the default switch s2 to its better (slower) mode.
func newS2Codec(level Level) *s2Codec {
	return &s2Codec{better: level > 1}
}

func (c *s2Codec) Method() Method { return S2 }

func (c *s2Codec) Encode(dst, src []byte) ([]byte, error) {
	if n := s2.MaxEncodedLen(len(src)); n > cap(dst) {
		dst = make([]byte, n)
	} else {
		dst = dst[:n]
	}
	if c.better {
		return s2.EncodeBetter(dst, src), nil
	}
	return s2.Encode(dst, src), nil
}

func (c *s2Codec) Decode(dst, src []byte, rawLen int) ([]byte, error) {
	n, err := s2.DecodedLen(src)
	if err != nil {
		return nil, errors.Wrap(err, "s2: invalid block")
	}
	if err := checkDecodedLen(S2, n, rawLen); err != nil {
		return nil, err
	}
	if n > cap(dst) {
		dst = make([]byte, n)
	}
	out, err := s2.Decode(dst[:n], src)
	if err != nil {
		return nil, errors.Wrap(err, "s2: decode failed")
	}
	return out, nil
}

func (c *s2Codec) Close() error { return nil }
