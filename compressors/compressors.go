package compressors

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/INLOpen/atundo/core"
)

// ErrIncompressible is returned when a compressor cannot shrink its input.
// Callers store such payloads uncompressed.
var ErrIncompressible = errors.New("input is not compressible")

var zstdShared = NewZstdCompressor()

// ForType returns the compressor recorded in a rollback info header.
func ForType(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return zstdShared, nil
	default:
		return nil, fmt.Errorf("unknown compression type %d", t)
	}
}

// ForName resolves a configured compression name ("none", "snappy", "lz4", "zstd").
func ForName(name string) (core.Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return ForType(core.CompressionNone)
	case "snappy":
		return ForType(core.CompressionSnappy)
	case "lz4":
		return ForType(core.CompressionLZ4)
	case "zstd":
		return ForType(core.CompressionZSTD)
	default:
		return nil, fmt.Errorf("unsupported compression %q", name)
	}
}

// DecompressAll decompresses data with c and reads the whole result.
func DecompressAll(c core.Compressor, data []byte) ([]byte, error) {
	rc, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%s decompress read error: %w", c.Type(), err)
	}
	return out, nil
}
