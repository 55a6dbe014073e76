// Package types defines the value, record, and schema types shared by
// the storage, index, catalog, and executor layers, along with the
// tagged binary encoding used to persist them in heap pages, B+ tree
// nodes, and the catalog blob.
package types

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Kind identifies the SQL data type of a Value or a schema column.
type Kind byte

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindChar
	KindVarchar
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt:
		return "INT"
	case KindFloat:
		return "FLOAT"
	case KindBool:
		return "BOOL"
	case KindChar:
		return "CHAR"
	case KindVarchar:
		return "VARCHAR"
	default:
		return "UNKNOWN"
	}
}

// Value is a single typed SQL value. Len is the declared column length
// for Char/Varchar (0 for other kinds) and is required to apply the
// CHAR padding / VARCHAR truncation rules on encode.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Str   string
	Len   int // declared CHAR(n) / VARCHAR(n) length, 0 if not applicable
}

// Null is the NULL value.
var Null = Value{Kind: KindNull}

func NewInt(v int64) Value   { return Value{Kind: KindInt, Int: v} }
func NewFloat(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func NewBool(v bool) Value   { return Value{Kind: KindBool, Bool: v} }

// NewChar constructs a CHAR(n) value, null-padding the string on
// encode and stripping trailing NULs on decode.
func NewChar(s string, n int) Value {
	return Value{Kind: KindChar, Str: s, Len: n}
}

// NewVarchar constructs a VARCHAR(n) value. internal/executor's
// coerceToColumn enforces len(s) <= n before a value reaches storage;
// NewVarchar itself does not enforce n, so callers outside that path
// (decoding, tests) are free to build values of any length.
func NewVarchar(s string, n int) Value {
	return Value{Kind: KindVarchar, Str: s, Len: n}
}

// IsNull reports whether v is the SQL NULL value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders v for diagnostics and shell display.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindChar, KindVarchar:
		return v.Str
	default:
		return "?"
	}
}

// Equal reports whether two values are equal under SQL two-valued
// comparison semantics used for index keys (NULL is never equal to
// anything, including another NULL, in this function; callers that
// need SQL three-valued WHERE semantics use Compare via internal/executor).
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return false
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	case KindChar, KindVarchar:
		return v.Str == other.Str
	default:
		return false
	}
}

// Less reports whether v sorts before other. Used by the B+ tree for
// key ordering. Values must share a Kind; comparing across kinds
// panics, as the planner/executor must never construct such a key.
func (v Value) Less(other Value) bool {
	if v.Kind != other.Kind {
		panic(fmt.Sprintf("types: cannot compare %s to %s", v.Kind, other.Kind))
	}
	switch v.Kind {
	case KindInt:
		return v.Int < other.Int
	case KindFloat:
		return v.Float < other.Float
	case KindBool:
		return !v.Bool && other.Bool
	case KindChar, KindVarchar:
		return v.Str < other.Str
	default:
		return false
	}
}

// tag bytes for the on-disk encoding. One byte precedes every encoded
// value so a reader never needs schema context to skip past it.
const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagBool
	tagChar
	tagVarchar
)

// Encode appends the tagged binary representation of v to buf and
// returns the extended slice. The format is:
//
//	tag:1 | payload
//
// where payload is type-specific:
//
//	int:     8 bytes, big-endian two's complement
//	float:   8 bytes, IEEE-754 bits, big-endian
//	bool:    1 byte, 0 or 1
//	char:    length:4 (big-endian) || bytes, padded with NUL to Len
//	varchar: length:4 (big-endian) || bytes (no padding)
func (v Value) Encode(buf []byte) []byte {
	switch v.Kind {
	case KindNull:
		return append(buf, tagNull)
	case KindInt:
		buf = append(buf, tagInt)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int))
		return append(buf, b[:]...)
	case KindFloat:
		buf = append(buf, tagFloat)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float))
		return append(buf, b[:]...)
	case KindBool:
		buf = append(buf, tagBool)
		if v.Bool {
			return append(buf, 1)
		}
		return append(buf, 0)
	case KindChar:
		buf = append(buf, tagChar)
		padded := padChar(v.Str, v.Len)
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(padded)))
		buf = append(buf, lb[:]...)
		return append(buf, padded...)
	case KindVarchar:
		buf = append(buf, tagVarchar)
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(v.Str)))
		buf = append(buf, lb[:]...)
		return append(buf, v.Str...)
	default:
		panic(fmt.Sprintf("types: encode of unknown kind %d", v.Kind))
	}
}

// Decode reads one tagged value from the front of buf and returns it
// along with the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, fmt.Errorf("types: empty buffer")
	}
	switch buf[0] {
	case tagNull:
		return Null, 1, nil
	case tagInt:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("types: truncated int value")
		}
		return NewInt(int64(binary.BigEndian.Uint64(buf[1:9]))), 9, nil
	case tagFloat:
		if len(buf) < 9 {
			return Value{}, 0, fmt.Errorf("types: truncated float value")
		}
		return NewFloat(math.Float64frombits(binary.BigEndian.Uint64(buf[1:9]))), 9, nil
	case tagBool:
		if len(buf) < 2 {
			return Value{}, 0, fmt.Errorf("types: truncated bool value")
		}
		return NewBool(buf[1] != 0), 2, nil
	case tagChar:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("types: truncated char header")
		}
		n := int(binary.BigEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return Value{}, 0, fmt.Errorf("types: truncated char payload")
		}
		raw := string(buf[5 : 5+n])
		return NewChar(strings.TrimRight(raw, "\x00"), n), 5 + n, nil
	case tagVarchar:
		if len(buf) < 5 {
			return Value{}, 0, fmt.Errorf("types: truncated varchar header")
		}
		n := int(binary.BigEndian.Uint32(buf[1:5]))
		if len(buf) < 5+n {
			return Value{}, 0, fmt.Errorf("types: truncated varchar payload")
		}
		return NewVarchar(string(buf[5:5+n]), n), 5 + n, nil
	default:
		return Value{}, 0, fmt.Errorf("types: unknown tag byte %d", buf[0])
	}
}

// padChar right-pads s with NUL bytes to length n, truncating if s is
// already longer. internal/executor's coerceToColumn rejects an
// over-length CHAR value with TypeMismatch before it reaches Encode;
// the truncation here only guards values built some other way (tests,
// direct NewChar calls).
func padChar(s string, n int) []byte {
	if len(s) >= n {
		return []byte(s[:n])
	}
	out := make([]byte, n)
	copy(out, s)
	return out
}
