// Copyright 2016 Aleksandr Demakin. All rights reserved.

package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

type gzipCodec struct {
	level   int
	writers sync.Pool
}

func newGzipCodec(level Level) (*gzipCodec, error) {
	lvl := int(level)
	if lvl == 0 {
		lvl = gzip.DefaultCompression
	}
	if lvl < gzip.HuffmanOnly || lvl > gzip.BestCompression {
		return nil, errors.Errorf("invalid gzip level %d", lvl)
	}
	return &gzipCodec{level: lvl}, nil
}

func (c *gzipCodec) Method() Method { return Gzip }

func (c *gzipCodec) Encode(dst, src []byte) ([]byte, error) {
	buf := bytes.NewBuffer(dst[:0])
	w, _ := c.writers.Get().(*gzip.Writer)
	if w == nil {
		var err error
		if w, err = gzip.NewWriterLevel(buf, c.level); err != nil {
			return nil, errors.Wrap(err, "gzip: failed to create writer")
		}
	} else {
		w.Reset(buf)
	}
	defer c.writers.Put(w)
	if _, err := w.Write(src); err != nil {
		return nil, errors.Wrap(err, "gzip: write failed")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip: close failed")
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(dst, src []byte, rawLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "gzip: invalid stream")
	}
	defer r.Close()
	buf := bytes.NewBuffer(dst[:0])
	if rawLen > 0 {
		buf.Grow(rawLen)
	}
	if _, err := io.Copy(buf, r); err != nil {
		return nil, errors.Wrap(err, "gzip: read failed")
	}
	if err := checkDecodedLen(Gzip, buf.Len(), rawLen); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Close() error { return nil }
