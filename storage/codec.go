package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses and decompresses whole plane objects.
type Codec interface {
	Name() string
	Encode(in []byte) ([]byte, error)
	Decode(in []byte) ([]byte, error)
}

// CodecFor returns the codec for an info document encoding name.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "raw":
		return rawCodec{}, nil
	case "gzip":
		return gzipCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown plane encoding %q", name)
	}
}

type rawCodec struct{}

func (rawCodec) Name() string                     { return "raw" }
func (rawCodec) Encode(in []byte) ([]byte, error) { return in, nil }
func (rawCodec) Decode(in []byte) ([]byte, error) { return in, nil }

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (gzipCodec) Encode(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(in []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress gzip data: %v", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("can't read gzip data: %v", err)
	}
	return out, nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Encode(in []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, make([]byte, 0, len(in)/2)), nil
}

func (zstdCodec) Decode(in []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(in, nil)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress zstd data: %v", err)
	}
	return out, nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (snappyCodec) Encode(in []byte) ([]byte, error) {
	return snappy.Encode(nil, in), nil
}

func (snappyCodec) Decode(in []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, in)
	if err != nil {
		return nil, fmt.Errorf("can't uncompress snappy data: %v", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(in []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(in)))
	if err != nil {
		return nil, fmt.Errorf("can't uncompress lz4 data: %v", err)
	}
	return out, nil
}
