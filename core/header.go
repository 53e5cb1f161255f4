package core

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// RollbackInfoMagicNumber prefixes every encoded undo record set ("UNDO").
	RollbackInfoMagicNumber uint32 = 0x4F444E55
	// RollbackInfoVersion is the current envelope format version.
	RollbackInfoVersion uint8 = 1
	// RollbackInfoHeaderSize is magic(4) + version(1) + serializer(1) + compressor(1) + checksum(4).
	RollbackInfoHeaderSize = 11
)

// TombstoneContent is the rollback_info written with GlobalFinished rows.
var TombstoneContent = []byte("{}")

// RollbackInfoHeader prefixes the serialized (and possibly compressed) record set
// stored in rollback_info. Checksum covers the body that follows the header.
type RollbackInfoHeader struct {
	Magic          uint32
	Version        uint8
	SerializerType SerializerType
	CompressorType CompressionType
	Checksum       uint32
}

// NewRollbackInfoHeader builds a header for the given body.
func NewRollbackInfoHeader(serializer SerializerType, compressor CompressionType, body []byte) RollbackInfoHeader {
	return RollbackInfoHeader{
		Magic:          RollbackInfoMagicNumber,
		Version:        RollbackInfoVersion,
		SerializerType: serializer,
		CompressorType: compressor,
		Checksum:       crc32.ChecksumIEEE(body),
	}
}

// AppendTo appends the little-endian encoding of the header to buf.
func (h RollbackInfoHeader) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, h.Magic)
	buf = append(buf, h.Version, byte(h.SerializerType), byte(h.CompressorType))
	return binary.LittleEndian.AppendUint32(buf, h.Checksum)
}

// SplitRollbackInfo parses the header of an encoded payload, verifies its checksum
// and returns the body that follows it.
func SplitRollbackInfo(data []byte) (RollbackInfoHeader, []byte, error) {
	var h RollbackInfoHeader
	if len(data) < RollbackInfoHeaderSize {
		return h, nil, fmt.Errorf("%w: payload of %d bytes is shorter than header", ErrCorruptRollbackInfo, len(data))
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	if h.Magic != RollbackInfoMagicNumber {
		return h, nil, fmt.Errorf("%w: invalid magic number: got %x, want %x", ErrCorruptRollbackInfo, h.Magic, RollbackInfoMagicNumber)
	}
	h.Version = data[4]
	if h.Version != RollbackInfoVersion {
		return h, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptRollbackInfo, h.Version)
	}
	h.SerializerType = SerializerType(data[5])
	h.CompressorType = CompressionType(data[6])
	h.Checksum = binary.LittleEndian.Uint32(data[7:11])

	body := data[RollbackInfoHeaderSize:]
	if got := crc32.ChecksumIEEE(body); got != h.Checksum {
		return h, nil, fmt.Errorf("%w: checksum mismatch: got %x, want %x", ErrCorruptRollbackInfo, got, h.Checksum)
	}
	return h, body, nil
}
