package parser

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/INLOpen/atundo/compressors"
	"github.com/INLOpen/atundo/core"
)

// DefaultCompressThreshold is the body size from which compression is applied.
const DefaultCompressThreshold = 64 * 1024

var compressBufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Codec turns undo record sets into rollback_info payloads and back.
//
// A payload is a core.RollbackInfoHeader followed by the serialized record set,
// compressed when it reaches the threshold and the compressor actually shrinks
// it. Decode dispatches on the header, not on the codec's own configuration, so
// rows written under an older configuration stay readable.
type Codec struct {
	parser     UndoLogParser
	compressor core.Compressor
	threshold  int
}

// NewCodec builds a codec. A nil compressor disables compression; a threshold
// <= 0 selects DefaultCompressThreshold.
func NewCodec(p UndoLogParser, compressor core.Compressor, threshold int) *Codec {
	if compressor == nil {
		compressor = &compressors.NoCompressionCompressor{}
	}
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &Codec{parser: p, compressor: compressor, threshold: threshold}
}

// NewDefaultCodec is JSON without compression.
func NewDefaultCodec() *Codec {
	return NewCodec(JSONParser{}, nil, 0)
}

// Parser returns the serializer used by Encode.
func (c *Codec) Parser() UndoLogParser { return c.parser }

// DefaultContent is the payload of GlobalFinished tombstones.
func (c *Codec) DefaultContent() []byte {
	return core.TombstoneContent
}

func (c *Codec) Encode(log *core.BranchUndoLog) ([]byte, error) {
	body, err := c.parser.Encode(log)
	if err != nil {
		return nil, err
	}

	ctype := core.CompressionNone
	if c.compressor.Type() != core.CompressionNone && len(body) >= c.threshold {
		buf := compressBufPool.Get().(*bytes.Buffer)
		defer compressBufPool.Put(buf)
		err := c.compressor.CompressTo(buf, body)
		switch {
		case errors.Is(err, compressors.ErrIncompressible):
		case err != nil:
			return nil, fmt.Errorf("compress rollback info: %w", err)
		case buf.Len() < len(body):
			body = buf.Bytes()
			ctype = c.compressor.Type()
		}
	}

	// body may alias a pooled buffer until the deferred Put, so it is copied here.
	header := core.NewRollbackInfoHeader(c.parser.Type(), ctype, body)
	out := make([]byte, 0, core.RollbackInfoHeaderSize+len(body))
	out = header.AppendTo(out)
	return append(out, body...), nil
}

func (c *Codec) Decode(data []byte) (*core.BranchUndoLog, error) {
	header, body, err := core.SplitRollbackInfo(data)
	if err != nil {
		return nil, err
	}
	p, err := ByType(header.SerializerType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptRollbackInfo, err)
	}
	if header.CompressorType != core.CompressionNone {
		compressor, err := compressors.ForType(header.CompressorType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCorruptRollbackInfo, err)
		}
		if body, err = compressors.DecompressAll(compressor, body); err != nil {
			return nil, fmt.Errorf("decompress rollback info: %w", err)
		}
	}
	return p.Decode(body)
}
