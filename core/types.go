package core

import (
	"bytes"
	"context"
	"database/sql"
	"io"
)

// CompressionType identifies the compression algorithm applied to a rollback_info body.
// It is stored in the rollback info header so a row can be decompressed regardless of
// the compressor configured at undo time.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for compression and decompression algorithms.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress decompresses the input data.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// SerializerType identifies the encoding of an undo record set inside rollback_info.
type SerializerType byte

const (
	SerializerJSON    SerializerType = 1
	SerializerMsgpack SerializerType = 2
)

func (st SerializerType) String() string {
	switch st {
	case SerializerJSON:
		return "json"
	case SerializerMsgpack:
		return "msgpack"
	default:
		return "unknown"
	}
}

// Executor is the subset of *sql.Tx / *sql.Conn that undo log statements and
// inverse statements run against. Every method is expected to participate in
// the caller's local transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
