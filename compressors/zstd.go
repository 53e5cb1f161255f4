package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/atundo/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements the Compressor interface using zstd. Encoders and
// decoders are pooled because both are expensive to construct.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

// Close returns the decoder to the pool. Decoder.Close would make it unusable.
func (zrc *zstdReadCloser) Close() error {
	zrc.pool.Put(zrc.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{}
}

func (c *ZstdCompressor) getEncoder() (*zstd.Encoder, error) {
	if enc, ok := c.encoderPool.Get().(*zstd.Encoder); ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder init error: %w", err)
	}
	return enc, nil
}

func (c *ZstdCompressor) getDecoder() (*zstd.Decoder, error) {
	if dec, ok := c.decoderPool.Get().(*zstd.Decoder); ok {
		return dec, nil
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(100*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder init error: %w", err)
	}
	return dec, nil
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, err := c.getDecoder()
	if err != nil {
		return nil, err
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo compresses src into dst.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.getEncoder()
	if err != nil {
		return err
	}
	defer c.encoderPool.Put(enc)

	dst.Reset()
	enc.Reset(dst)
	if _, err := enc.Write(src); err != nil {
		// Close must still run so the pooled encoder is left in a usable state.
		_ = enc.Close()
		return fmt.Errorf("zstd compress write error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd compress close error: %w", err)
	}
	return nil
}
