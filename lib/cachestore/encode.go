// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/companion-foundation/companion/lib/codec"
)

// Compression identifies how a value is stored at rest. The numeric
// values are persisted in the SQLite schema and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("cachestore: unknown compression %q", name)
	}
}

// digestDomain is the BLAKE3 key for value digests, zero-padded to 32
// bytes.
const digestDomain = "companion.cache.value"

var digestKey = func() [32]byte {
	var key [32]byte
	copy(key[:], digestDomain)
	return key
}()

func digest(canonical []byte) string {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("cachestore: blake3.NewKeyed with 32-byte key failed: " + err.Error())
	}
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil))
}

// errIncompressible means compression did not shrink the input.
var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("cachestore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("cachestore: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, mode Compression) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		compressed := make([]byte, bound)
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return compressed[:n], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)))
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unknown compression %s", mode)
	}
}

func decompress(data []byte, mode Compression, size int) ([]byte, error) {
	switch mode {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("stored size %d, want %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		output := make([]byte, size)
		n, err := lz4.UncompressBlock(data, output)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompressed %d bytes, want %d", n, size)
		}
		return output, nil
	case CompressionZstd:
		output, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(output) != size {
			return nil, fmt.Errorf("zstd decompressed %d bytes, want %d", len(output), size)
		}
		return output, nil
	default:
		return nil, fmt.Errorf("unknown compression %s", mode)
	}
}

// blob is a value as it sits at rest.
type blob struct {
	data        []byte
	size        int
	compression Compression
	digest      string
}

// encodeValue canonicalizes value and compresses it with mode, falling
// back to no compression when the value does not shrink.
func encodeValue(value json.RawMessage, mode Compression) (blob, error) {
	canonical, err := codec.FromJSON(value)
	if errors.Is(err, codec.ErrNumberOutOfRange) {
		return blob{}, fmt.Errorf("cachestore: %w", err)
	} else if err != nil {
		return blob{}, fmt.Errorf("cachestore: value is not valid JSON: %w", err)
	}
	stored, err := compress(canonical, mode)
	if errors.Is(err, errIncompressible) {
		stored, mode = canonical, CompressionNone
	} else if err != nil {
		return blob{}, fmt.Errorf("cachestore: %w", err)
	}
	return blob{
		data:        stored,
		size:        len(canonical),
		compression: mode,
		digest:      digest(canonical),
	}, nil
}

func decodeValue(b blob) (json.RawMessage, error) {
	canonical, err := decompress(b.data, b.compression, b.size)
	if err != nil {
		return nil, fmt.Errorf("cachestore: %w", err)
	}
	value, err := codec.ToJSON(canonical)
	if err != nil {
		return nil, fmt.Errorf("cachestore: %w", err)
	}
	return value, nil
}
