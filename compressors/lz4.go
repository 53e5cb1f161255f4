package compressors

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/atundo/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4DecompressedSize bounds the buffer growth in Decompress. Undo record
// sets larger than this are not expected from a single branch.
const maxLZ4DecompressedSize = 64 * 1024 * 1024

// LZ4Compressor implements the Compressor interface using LZ4 block format.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(data) > 0 {
		// CompressBlock reports incompressible input as zero bytes written.
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

// Decompress grows the destination buffer until the block fits, since the LZ4
// block format does not record the original size.
func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	dstSize := len(data) * 3
	if dstSize < 1024 {
		dstSize = 1024
	}
	dst := make([]byte, dstSize)

	for {
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return io.NopCloser(bytes.NewReader(dst[:n])), nil
		}
		if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			if len(dst) > maxLZ4DecompressedSize {
				return nil, fmt.Errorf("lz4 decompression buffer grew too large (>%d bytes)", maxLZ4DecompressedSize)
			}
			dst = make([]byte, len(dst)*2)
			continue
		}
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

// CompressTo compresses src into dst using the same block format as Compress.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	out, err := c.Compress(src)
	if err != nil {
		return err
	}
	dst.Write(out)
	return nil
}
