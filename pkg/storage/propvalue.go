package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/orneryd/nornicdb/pkg/convert"
)

// PVKind tags the variant held by a PropertyValue. The numeric values are
// also the on-disk kind marker written by Encode, so they must never be
// renumbered once a format version has shipped.
type PVKind uint8

const (
	PVNull PVKind = iota
	PVBool
	PVInt
	PVDouble
	PVString
	PVList
	PVMap
)

func (k PVKind) String() string {
	switch k {
	case PVNull:
		return "null"
	case PVBool:
		return "bool"
	case PVInt:
		return "int"
	case PVDouble:
		return "double"
	case PVString:
		return "string"
	case PVList:
		return "list"
	case PVMap:
		return "map"
	default:
		return fmt.Sprintf("PVKind(%d)", uint8(k))
	}
}

// PropertyValue is the tagged union of primitive types a vertex or edge
// property may hold: null, bool, int64, double, string, a list of
// PropertyValue, or a string-keyed map of PropertyValue. Equality is
// structural (Equal); ordering (Less) is only meaningful within the same
// kind.
//
// The zero PropertyValue is PVNull, so a freshly declared var behaves
// sensibly.
type PropertyValue struct {
	kind PVKind
	b    bool
	i    int64
	d    float64
	s    string
	list []PropertyValue
	m    map[string]PropertyValue
}

func NullValue() PropertyValue            { return PropertyValue{kind: PVNull} }
func BoolValue(v bool) PropertyValue      { return PropertyValue{kind: PVBool, b: v} }
func IntValue(v int64) PropertyValue      { return PropertyValue{kind: PVInt, i: v} }
func DoubleValue(v float64) PropertyValue { return PropertyValue{kind: PVDouble, d: v} }
func StringValue(v string) PropertyValue  { return PropertyValue{kind: PVString, s: v} }
func ListValue(v []PropertyValue) PropertyValue {
	return PropertyValue{kind: PVList, list: v}
}
func MapValue(v map[string]PropertyValue) PropertyValue {
	return PropertyValue{kind: PVMap, m: v}
}

// FromAny coerces a loosely-typed Go value (as produced by a Cypher
// literal, a JSON decode, or any other external collaborator) into a
// PropertyValue, using the same numeric-widening rules as pkg/convert so
// that, e.g., a JSON float64 holding a whole number and a Go int both land
// on PVInt/PVDouble consistently. Returns an error for types with no
// PropertyValue representation (structs, channels, funcs, ...).
func FromAny(v any) (PropertyValue, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case PropertyValue:
		return x, nil
	case []PropertyValue:
		return ListValue(x), nil
	case map[string]PropertyValue:
		return MapValue(x), nil
	case []any:
		out := make([]PropertyValue, len(x))
		for i, e := range x {
			pv, err := FromAny(e)
			if err != nil {
				return PropertyValue{}, err
			}
			out[i] = pv
		}
		return ListValue(out), nil
	case map[string]any:
		out := make(map[string]PropertyValue, len(x))
		for k, e := range x {
			pv, err := FromAny(e)
			if err != nil {
				return PropertyValue{}, err
			}
			out[k] = pv
		}
		return MapValue(out), nil
	case []float64, []float32:
		// A raw numeric slice (e.g. an embedding vector) rather than a
		// boxed []any — skip FromAny's per-element recursion and use
		// convert's slice coercion directly.
		fs, _ := convert.ToFloat64Slice(x)
		out := make([]PropertyValue, len(fs))
		for i, f := range fs {
			out[i] = DoubleValue(f)
		}
		return ListValue(out), nil
	case []string:
		ss := convert.ToStringSlice(x)
		out := make([]PropertyValue, len(ss))
		for i, s := range ss {
			out[i] = StringValue(s)
		}
		return ListValue(out), nil
	}

	switch v.(type) {
	case float32, float64:
		f, _ := convert.ToFloat64(v)
		return DoubleValue(f), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, _ := convert.ToInt64(v)
		return IntValue(i), nil
	}
	return PropertyValue{}, fmt.Errorf("storage: %T has no property value representation", v)
}

func (v PropertyValue) Kind() PVKind { return v.kind }
func (v PropertyValue) IsNull() bool { return v.kind == PVNull }

// Bool, Int, Double, Str, List, and Map are unchecked accessors: calling
// the wrong one for v.Kind() returns the zero value of that type rather
// than panicking, matching the permissive style of convert.ToInt64 et al.
func (v PropertyValue) Bool() bool                    { return v.b }
func (v PropertyValue) Int() int64                    { return v.i }
func (v PropertyValue) Double() float64               { return v.d }
func (v PropertyValue) Str() string                   { return v.s }
func (v PropertyValue) List() []PropertyValue         { return v.list }
func (v PropertyValue) Map() map[string]PropertyValue { return v.m }

// Float32Slice reconstructs a PVList of PVDouble/PVInt entries as a
// []float32, the compact form embedding-vector properties are usually
// wanted back in. Entries that aren't numeric are skipped, matching
// convert.ToFloat32Slice's permissive element handling.
func (v PropertyValue) Float32Slice() []float32 {
	if v.kind != PVList {
		return nil
	}
	return convert.ToFloat32Slice(v.Any())
}

// Any unwraps a PropertyValue back into a plain Go value, recursively for
// lists and maps. Useful at API boundaries (JSON export, test assertions)
// that don't want to deal with the PVKind tag.
func (v PropertyValue) Any() any {
	switch v.kind {
	case PVNull:
		return nil
	case PVBool:
		return v.b
	case PVInt:
		return v.i
	case PVDouble:
		return v.d
	case PVString:
		return v.s
	case PVList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Any()
		}
		return out
	case PVMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// Equal reports structural equality. Two PropertyValues of different kinds
// are never equal, including PVInt(1) vs PVDouble(1.0) — Memgraph's
// property values do not auto-coerce across the int/double boundary.
func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case PVNull:
		return true
	case PVBool:
		return v.b == other.b
	case PVInt:
		return v.i == other.i
	case PVDouble:
		return v.d == other.d
	case PVString:
		return v.s == other.s
	case PVList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case PVMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, e := range v.m {
			oe, ok := other.m[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Less orders two values of the same primitive kind. It is undefined (and
// returns false) across kinds or for list/map, which the spec declares
// unordered.
func (v PropertyValue) Less(other PropertyValue) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case PVInt:
		return v.i < other.i
	case PVDouble:
		return v.d < other.d
	case PVString:
		return v.s < other.s
	case PVBool:
		return !v.b && other.b
	default:
		return false
	}
}

// EncodedSize returns the number of bytes Encode would write, without
// allocating. Used by the WAL and snapshot writers to size buffers and by
// Config.MaxPropertyValueBytes enforcement (see ErrPropertyValueTooLarge)
// before committing to an actual write.
func (v PropertyValue) EncodedSize() int {
	switch v.kind {
	case PVNull:
		return 1
	case PVBool:
		return 2
	case PVInt:
		var buf [binary.MaxVarintLen64]byte
		return 1 + binary.PutVarint(buf[:], v.i)
	case PVDouble:
		return 1 + 8
	case PVString:
		return 1 + 4 + len(v.s)
	case PVList:
		n := 1 + 4
		for _, e := range v.list {
			n += e.EncodedSize()
		}
		return n
	case PVMap:
		n := 1 + 4
		for k, e := range v.m {
			n += 4 + len(k) + e.EncodedSize()
		}
		return n
	default:
		return 1
	}
}

// Encode writes the self-describing binary form of v to w: a one-byte kind
// marker followed by a kind-specific body. Integers use signed varint
// (zig-zag) encoding; doubles are 8 raw bytes; strings and the bodies of
// lists/maps are length-prefixed (uint32, little-endian). Decode(Encode(v))
// reproduces v exactly (PropertyValue.Equal).
func (v PropertyValue) Encode(w io.Writer) error {
	if err := writeByte(w, byte(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case PVNull:
		return nil
	case PVBool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return writeByte(w, b)
	case PVInt:
		var buf [binary.MaxVarintLen64]byte
		n := binary.PutVarint(buf[:], v.i)
		_, err := w.Write(buf[:n])
		return err
	case PVDouble:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.d))
		_, err := w.Write(buf[:])
		return err
	case PVString:
		return writeLenPrefixedString(w, v.s)
	case PVList:
		if err := writeUint32(w, uint32(len(v.list))); err != nil {
			return err
		}
		for _, e := range v.list {
			if err := e.Encode(w); err != nil {
				return err
			}
		}
		return nil
	case PVMap:
		if err := writeUint32(w, uint32(len(v.m))); err != nil {
			return err
		}
		for k, e := range v.m {
			if err := writeLenPrefixedString(w, k); err != nil {
				return err
			}
			if err := e.Encode(w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("storage: encode: unknown property kind %v", v.kind)
	}
}

// DecodePropertyValue reads back a value written by PropertyValue.Encode.
func DecodePropertyValue(r io.Reader) (PropertyValue, error) {
	kindByte, err := readByte(r)
	if err != nil {
		return PropertyValue{}, err
	}
	kind := PVKind(kindByte)
	switch kind {
	case PVNull:
		return NullValue(), nil
	case PVBool:
		b, err := readByte(r)
		if err != nil {
			return PropertyValue{}, err
		}
		return BoolValue(b != 0), nil
	case PVInt:
		i, err := binary.ReadVarint(byteReader{r})
		if err != nil {
			return PropertyValue{}, err
		}
		return IntValue(i), nil
	case PVDouble:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return PropertyValue{}, err
		}
		return DoubleValue(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case PVString:
		s, err := readLenPrefixedString(r)
		if err != nil {
			return PropertyValue{}, err
		}
		return StringValue(s), nil
	case PVList:
		n, err := readUint32(r)
		if err != nil {
			return PropertyValue{}, err
		}
		list := make([]PropertyValue, n)
		for i := range list {
			e, err := DecodePropertyValue(r)
			if err != nil {
				return PropertyValue{}, err
			}
			list[i] = e
		}
		return ListValue(list), nil
	case PVMap:
		n, err := readUint32(r)
		if err != nil {
			return PropertyValue{}, err
		}
		m := make(map[string]PropertyValue, n)
		for i := uint32(0); i < n; i++ {
			k, err := readLenPrefixedString(r)
			if err != nil {
				return PropertyValue{}, err
			}
			e, err := DecodePropertyValue(r)
			if err != nil {
				return PropertyValue{}, err
			}
			m[k] = e
		}
		return MapValue(m), nil
	default:
		return PropertyValue{}, fmt.Errorf("storage: decode: unknown property kind marker %d", kindByte)
	}
}

// SkipPropertyValue advances past a single encoded value without
// allocating a PropertyValue for it, for callers (snapshot range-offset
// computation, WAL scanning) that only need to know where the next record
// starts.
func SkipPropertyValue(r io.Reader) error {
	kindByte, err := readByte(r)
	if err != nil {
		return err
	}
	switch PVKind(kindByte) {
	case PVNull:
		return nil
	case PVBool:
		_, err := readByte(r)
		return err
	case PVInt:
		_, err := binary.ReadVarint(byteReader{r})
		return err
	case PVDouble:
		var buf [8]byte
		_, err := io.ReadFull(r, buf[:])
		return err
	case PVString:
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		_, err = io.CopyN(io.Discard, r, int64(n))
		return err
	case PVList:
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if err := SkipPropertyValue(r); err != nil {
				return err
			}
		}
		return nil
	case PVMap:
		n, err := readUint32(r)
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			if _, err := readLenPrefixedString(r); err != nil {
				return err
			}
			if err := SkipPropertyValue(r); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("storage: skip: unknown property kind marker %d", kindByte)
	}
}

// --- small binary helpers shared by the property codec, WAL, and snapshot ---

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeLenPrefixedString(w io.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLenPrefixedString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// byteReader adapts an io.Reader to io.ByteReader for binary.ReadVarint,
// which needs one-byte-at-a-time reads. Wrapping in bufio would be more
// efficient for large streams, but property values are read through
// already-buffered snapshot/WAL readers, so this stays a thin shim.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	return readByte(b.r)
}
