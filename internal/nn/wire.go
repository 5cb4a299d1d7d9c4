// Package nn implements the lc0-style attention-body transformer evaluator:
// a minimal protobuf wire reader, weight loading and format normalization,
// board-plane feature extraction, a backend-agnostic matmul abstraction, the
// attention-body forward pass, and a cached/batched Evaluator on top.
package nn

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// wireType mirrors protobuf's wire-format tags.
type wireType uint8

const (
	wireVarint         wireType = 0
	wireFixed64        wireType = 1
	wireLengthDelim    wireType = 2
	wireFixed32        wireType = 5
)

// field is one decoded protobuf field: a field number, its wire type, and
// whichever payload that wire type carries.
type field struct {
	number   uint32
	wireType wireType
	varint   uint64
	fixed32  uint32
	fixed64  uint64
	bytes    []byte
}

// readVarint decodes a base-128 varint starting at offset, returning the
// value and the offset just past it. ok is false on a truncated or
// pathologically long (>63 bits of shift) varint.
func readVarint(data []byte, offset int) (value uint64, next int, ok bool) {
	shift := uint(0)
	for offset < len(data) {
		b := data[offset]
		offset++
		value |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return value, offset, true
		}
		shift += 7
		if shift > 63 {
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// nextField decodes one field starting at offset. ok is false once offset
// reaches the end of data (normal end-of-message, not an error).
func nextField(data []byte, offset int) (f field, next int, ok bool, err error) {
	if offset >= len(data) {
		return field{}, offset, false, nil
	}

	key, offset, valid := readVarint(data, offset)
	if !valid {
		return field{}, 0, false, fmt.Errorf("nn: invalid field key varint at offset %d", offset)
	}

	f.number = uint32(key >> 3)
	wt := wireType(key & 7)
	f.wireType = wt

	switch wt {
	case wireVarint:
		v, o, valid := readVarint(data, offset)
		if !valid {
			return field{}, 0, false, fmt.Errorf("nn: invalid varint value for field %d", f.number)
		}
		f.varint = v
		offset = o
	case wireFixed64:
		if offset+8 > len(data) {
			return field{}, 0, false, fmt.Errorf("nn: truncated fixed64 field %d", f.number)
		}
		f.fixed64 = readU64LE(data[offset:])
		offset += 8
	case wireLengthDelim:
		length, o, valid := readVarint(data, offset)
		if !valid {
			return field{}, 0, false, fmt.Errorf("nn: invalid length-delimited size for field %d", f.number)
		}
		offset = o
		if int(length) < 0 || offset+int(length) > len(data) {
			return field{}, 0, false, fmt.Errorf("nn: truncated length-delimited field %d", f.number)
		}
		f.bytes = data[offset : offset+int(length)]
		offset += int(length)
	case wireFixed32:
		if offset+4 > len(data) {
			return field{}, 0, false, fmt.Errorf("nn: truncated fixed32 field %d", f.number)
		}
		f.fixed32 = readU32LE(data[offset:])
		offset += 4
	default:
		return field{}, 0, false, fmt.Errorf("nn: unsupported wire type %d on field %d", wt, f.number)
	}

	return f, offset, true, nil
}

func readU32LE(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func readU64LE(p []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p[i]) << (8 * i)
	}
	return v
}

// firstField scans data for the first field with the given number and wire
// type, skipping every other field (unknown fields are simply not matched).
func firstField(data []byte, number uint32, wt wireType) (field, bool, error) {
	offset := 0
	for {
		f, next, ok, err := nextField(data, offset)
		if err != nil {
			return field{}, false, err
		}
		if !ok {
			return field{}, false, nil
		}
		offset = next
		if f.number == number && f.wireType == wt {
			return f, true, nil
		}
	}
}

// allFields returns every field in data matching number/wt, in order.
func allFields(data []byte, number uint32, wt wireType) ([]field, error) {
	var out []field
	offset := 0
	for {
		f, next, ok, err := nextField(data, offset)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		offset = next
		if f.number == number && f.wireType == wt {
			out = append(out, f)
		}
	}
}

func firstSubmessage(data []byte, number uint32) ([]byte, bool, error) {
	f, ok, err := firstField(data, number, wireLengthDelim)
	if err != nil || !ok {
		return nil, ok, err
	}
	return f.bytes, true, nil
}

func allSubmessages(data []byte, number uint32) ([][]byte, error) {
	fields, err := allFields(data, number, wireLengthDelim)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(fields))
	for i, f := range fields {
		out[i] = f.bytes
	}
	return out, nil
}

// decompressGzip inflates a gzip-compressed weight file, using
// klauspost/compress's gzip reader rather than the standard library's for
// the same reason the rest of the corpus reaches for it: a drop-in faster
// decoder with an identical io.Reader-based API.
func decompressGzip(r io.Reader) ([]byte, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("nn: not a gzip stream: %w", err)
	}
	defer gz.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gz); err != nil {
		return nil, fmt.Errorf("nn: gzip decompress failed: %w", err)
	}
	return buf.Bytes(), nil
}
