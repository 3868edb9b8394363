package resources

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/pkg/errors"
)

const magicNumber = 0xBEEFCACE

var ErrFormat = errors.New("malformed resource set")

// TypeCode is the RuntimeResourceSet v2 value tag. Codes from UserTypes up index the type table.
type TypeCode int

const (
	TypeNull      TypeCode = 0x00
	TypeString    TypeCode = 0x01
	TypeBoolean   TypeCode = 0x02
	TypeChar      TypeCode = 0x03
	TypeByte      TypeCode = 0x04
	TypeSByte     TypeCode = 0x05
	TypeInt16     TypeCode = 0x06
	TypeUInt16    TypeCode = 0x07
	TypeInt32     TypeCode = 0x08
	TypeUInt32    TypeCode = 0x09
	TypeInt64     TypeCode = 0x0A
	TypeUInt64    TypeCode = 0x0B
	TypeSingle    TypeCode = 0x0C
	TypeDouble    TypeCode = 0x0D
	TypeDecimal   TypeCode = 0x0E
	TypeDateTime  TypeCode = 0x0F
	TypeTimeSpan  TypeCode = 0x10
	TypeByteArray TypeCode = 0x20
	TypeStream    TypeCode = 0x21
	UserTypes     TypeCode = 0x40
)

var primitiveSizes = map[TypeCode]int{
	TypeBoolean: 1, TypeChar: 2, TypeByte: 1, TypeSByte: 1, TypeInt16: 2, TypeUInt16: 2,
	TypeInt32: 4, TypeUInt32: 4, TypeInt64: 8, TypeUInt64: 8, TypeSingle: 4, TypeDouble: 8,
	TypeDecimal: 16, TypeDateTime: 8, TypeTimeSpan: 8,
}

var primitiveNames = map[TypeCode]string{
	TypeNull: "null", TypeBoolean: "System.Boolean", TypeChar: "System.Char", TypeByte: "System.Byte",
	TypeSByte: "System.SByte", TypeInt16: "System.Int16", TypeUInt16: "System.UInt16",
	TypeInt32: "System.Int32", TypeUInt32: "System.UInt32", TypeInt64: "System.Int64",
	TypeUInt64: "System.UInt64", TypeSingle: "System.Single", TypeDouble: "System.Double",
	TypeDecimal: "System.Decimal", TypeDateTime: "System.DateTime", TypeTimeSpan: "System.TimeSpan",
	TypeString: "System.String", TypeByteArray: "System.Byte[]", TypeStream: "System.IO.Stream",
}

// SerializationFormat prefixes user-typed payloads written for DeserializingResourceReader.
type SerializationFormat int

const (
	FormatBinaryFormatter SerializationFormat = iota
	FormatTypeConverterByteArray
	FormatTypeConverterString
	FormatActivatorStream
	// FormatNone marks classic ResourceReader payloads, which are raw BinaryFormatter streams.
	FormatNone SerializationFormat = -1
)

type Entry struct {
	Name     string
	Code     TypeCode
	TypeName string
	Format   SerializationFormat
	// String holds TypeString values; Data holds every other payload.
	String string
	Data   []byte
}

func (e *Entry) IsUserType() bool {
	return e.Code >= UserTypes
}

type Set struct {
	ReaderType string
	SetType    string
	Version    int
	Types      []string
	Entries    []Entry
}

// Deserializing reports whether the set was written for System.Resources.Extensions.
func (s *Set) Deserializing() bool {
	return strings.HasPrefix(s.ReaderType, "System.Resources.Extensions.DeserializingResourceReader")
}

type reader struct {
	buf  *bytes.Reader
	size int64
}

func (r *reader) int32() (int32, error) {
	var v int32
	err := binary.Read(r.buf, binary.LittleEndian, &v)
	return v, err
}

func (r *reader) pos() int64 {
	return r.size - int64(r.buf.Len())
}

func (r *reader) read7Bit() (int, error) {
	var result uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.buf.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return int(int32(result)), nil
		}
	}
	return 0, errors.Wrap(ErrFormat, "bad 7-bit encoded integer")
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || int64(n) > int64(r.buf.Len()) {
		return nil, errors.Wrapf(ErrFormat, "length %d exceeds remaining %d bytes", n, r.buf.Len())
	}
	out := make([]byte, n)
	_, err := io.ReadFull(r.buf, out)
	return out, err
}

func (r *reader) string() (string, error) {
	n, err := r.read7Bit()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse reads a complete .resources stream. Entries keep the order of the name table.
func Parse(data []byte) (*Set, error) {
	var err error
	r := &reader{buf: bytes.NewReader(data), size: int64(len(data))}
	set := &Set{}

	var magic uint32
	if err = binary.Read(r.buf, binary.LittleEndian, &magic); err != nil || magic != magicNumber {
		return nil, errors.Wrap(ErrFormat, "missing resource set magic")
	}
	headerVersion, err := r.int32()
	if err != nil {
		return nil, errors.Wrap(ErrFormat, "unable to read header version")
	}
	skip, err := r.int32()
	if err != nil || skip < 0 || int64(skip) > int64(r.buf.Len()) {
		return nil, errors.Wrap(ErrFormat, "bad header length")
	}
	headerEnd := r.pos() + int64(skip)
	if headerVersion <= 1 {
		if set.ReaderType, err = r.string(); err != nil {
			return nil, errors.Wrap(ErrFormat, "unable to read reader type")
		}
		if set.SetType, err = r.string(); err != nil {
			return nil, errors.Wrap(ErrFormat, "unable to read resource set type")
		}
	}
	r.buf.Seek(headerEnd, io.SeekStart)

	version, err := r.int32()
	if err != nil || (version != 1 && version != 2) {
		return nil, errors.Wrapf(ErrFormat, "unsupported resource set version %d", version)
	}
	set.Version = int(version)

	count, err := r.int32()
	if err != nil || count < 0 || int64(count)*8 > int64(r.buf.Len()) {
		return nil, errors.Wrap(ErrFormat, "bad resource count")
	}
	typeCount, err := r.int32()
	if err != nil || typeCount < 0 || int64(typeCount) > int64(r.buf.Len()) {
		return nil, errors.Wrap(ErrFormat, "bad type count")
	}
	for i := 0; i < int(typeCount); i++ {
		name, err := r.string()
		if err != nil {
			return nil, errors.Wrap(ErrFormat, "unable to read type table")
		}
		set.Types = append(set.Types, name)
	}

	for r.pos()&7 != 0 {
		if _, err = r.buf.ReadByte(); err != nil {
			return nil, errors.Wrap(ErrFormat, "truncated padding")
		}
	}

	// name hashes are only used for lookups
	r.buf.Seek(int64(count)*4, io.SeekCurrent)
	positions := make([]int32, count)
	if err = binary.Read(r.buf, binary.LittleEndian, positions); err != nil {
		return nil, errors.Wrap(ErrFormat, "unable to read name positions")
	}
	dataSection, err := r.int32()
	if err != nil || dataSection < 0 || int64(dataSection) > r.size {
		return nil, errors.Wrap(ErrFormat, "bad data section offset")
	}
	nameSection := r.pos()

	offsets := make([]int64, count)
	for i, p := range positions {
		if p < 0 || nameSection+int64(p) >= int64(dataSection) {
			return nil, errors.Wrapf(ErrFormat, "name position %d out of range", p)
		}
		r.buf.Seek(nameSection+int64(p), io.SeekStart)
		n, err := r.read7Bit()
		if err != nil || n < 0 || n%2 != 0 {
			return nil, errors.Wrap(ErrFormat, "bad resource name length")
		}
		raw, err := r.bytes(n)
		if err != nil {
			return nil, errors.Wrap(ErrFormat, "truncated resource name")
		}
		units := make([]uint16, n/2)
		for j := range units {
			units[j] = binary.LittleEndian.Uint16(raw[j*2:])
		}
		offset, err := r.int32()
		if err != nil || offset < 0 || int64(dataSection)+int64(offset) >= r.size {
			return nil, errors.Wrap(ErrFormat, "bad resource data offset")
		}
		offsets[i] = int64(dataSection) + int64(offset)
		set.Entries = append(set.Entries, Entry{Name: string(utf16.Decode(units))})
	}

	for i := range set.Entries {
		r.buf.Seek(offsets[i], io.SeekStart)
		end := nextOffset(offsets, offsets[i], r.size)
		if err = set.readValue(r, &set.Entries[i], end); err != nil {
			return nil, errors.Wrapf(err, "resource %q", set.Entries[i].Name)
		}
	}
	return set, nil
}

// nextOffset is where the following entry's data starts, bounding BinaryFormatter payloads.
func nextOffset(offsets []int64, current, size int64) int64 {
	end := size
	for _, o := range offsets {
		if o > current && o < end {
			end = o
		}
	}
	return end
}

func (s *Set) readValue(r *reader, e *Entry, end int64) error {
	var err error
	e.Format = FormatNone

	if s.Version == 1 {
		index, err := r.int32()
		if err != nil {
			return err
		}
		if index == -1 {
			e.Code = TypeNull
			return nil
		}
		if index < 0 || int(index) >= len(s.Types) {
			return errors.Wrapf(ErrFormat, "type index %d out of range", index)
		}
		e.TypeName = s.Types[index]
		if strings.HasPrefix(e.TypeName, "System.String") {
			e.Code = TypeString
			e.String, err = r.string()
			return err
		}
		e.Code = UserTypes + TypeCode(index)
		e.Data, err = r.bytes(int(end - r.pos()))
		return err
	}

	code, err := r.read7Bit()
	if err != nil {
		return err
	}
	e.Code = TypeCode(code)
	e.TypeName = primitiveNames[e.Code]

	switch {
	case e.Code == TypeNull:
		return nil
	case e.Code == TypeString:
		e.String, err = r.string()
		return err
	case e.Code == TypeByteArray || e.Code == TypeStream:
		n, err := r.int32()
		if err != nil {
			return err
		}
		e.Data, err = r.bytes(int(n))
		return err
	case e.Code >= UserTypes:
		index := int(e.Code - UserTypes)
		if index >= len(s.Types) {
			return errors.Wrapf(ErrFormat, "type index %d out of range", index)
		}
		e.TypeName = s.Types[index]
		if !s.Deserializing() {
			e.Data, err = r.bytes(int(end - r.pos()))
			return err
		}
		format, err := r.read7Bit()
		if err != nil {
			return err
		}
		e.Format = SerializationFormat(format)
		n, err := r.read7Bit()
		if err != nil {
			return err
		}
		e.Data, err = r.bytes(n)
		if err == nil && e.Format == FormatTypeConverterString {
			e.String = string(e.Data)
		}
		return err
	}

	size, ok := primitiveSizes[e.Code]
	if !ok {
		return errors.Wrapf(ErrFormat, "unknown type code 0x%x", code)
	}
	e.Data, err = r.bytes(size)
	return err
}
