// Copyright 2016 Aleksandr Demakin. All rights reserved.

package codec

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec(level Level) (*zstdCodec, error) {
	encLevel := zstd.SpeedDefault
	if level != 0 {
		encLevel = zstd.EncoderLevelFromZstd(int(level))
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encLevel),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "zstd: failed to create encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "zstd: failed to create decoder")
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Method() Method { return Zstd }

func (c *zstdCodec) Encode(dst, src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, dst[:0]), nil
}

func (c *zstdCodec) Decode(dst, src []byte, rawLen int) ([]byte, error) {
	if rawLen > cap(dst) {
		dst = make([]byte, 0, rawLen)
	}
	out, err := c.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, errors.Wrap(err, "zstd: decode failed")
	}
	if err := checkDecodedLen(Zstd, len(out), rawLen); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *zstdCodec) Close() error {
	c.dec.Close()
	return c.enc.Close()
}
