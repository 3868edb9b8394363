// Package fixture builds real binary inputs for tests: .resources streams, MS-NRBF object blobs,
// image-list streams and minimal managed PE images.
package fixture

import (
	"bytes"
	"encoding/binary"
	"sort"
	"unicode/utf16"
)

const (
	resourceMagic = 0xBEEFCACE

	DefaultReaderType = "System.Resources.ResourceReader, mscorlib, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089"
	ExtensionsReader  = "System.Resources.Extensions.DeserializingResourceReader, System.Resources.Extensions, Version=4.0.0.0, Culture=neutral, PublicKeyToken=cc7b13ffcd2ddd51"
	defaultSetType    = "System.Resources.RuntimeResourceSet"

	DrawingAssembly = "System.Drawing, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b03f5f7f11d50a3a"
	FormsAssembly   = "System.Windows.Forms, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089"
)

type resourceEntry struct {
	name string
	data []byte
}

// Resources accumulates entries and renders them in the RuntimeResourceSet v2 layout.
type Resources struct {
	ReaderType string
	entries    []resourceEntry
	types      []string
}

func NewResources() *Resources {
	return &Resources{ReaderType: DefaultReaderType}
}

func (r *Resources) add(name string, code int, payload []byte) *Resources {
	var b bytes.Buffer
	write7Bit(&b, code)
	b.Write(payload)
	r.entries = append(r.entries, resourceEntry{name: name, data: b.Bytes()})
	return r
}

func (r *Resources) AddString(name, value string) *Resources {
	var b bytes.Buffer
	writeString(&b, value)
	return r.add(name, 0x01, b.Bytes())
}

func (r *Resources) AddInt32(name string, value int32) *Resources {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, value)
	return r.add(name, 0x08, b.Bytes())
}

func (r *Resources) AddBytes(name string, data []byte) *Resources {
	return r.add(name, 0x20, lengthPrefixed(data))
}

func (r *Resources) AddStream(name string, data []byte) *Resources {
	return r.add(name, 0x21, lengthPrefixed(data))
}

func (r *Resources) AddNull(name string) *Resources {
	return r.add(name, 0x00, nil)
}

// AddObject stores a user-typed entry; payload is the already serialized object.
func (r *Resources) AddObject(name, typeName string, payload []byte) *Resources {
	index := -1
	for i, t := range r.types {
		if t == typeName {
			index = i
		}
	}
	if index < 0 {
		r.types = append(r.types, typeName)
		index = len(r.types) - 1
	}
	return r.add(name, 0x40+index, payload)
}

// AddPreserialized stores a user-typed entry in the DeserializingResourceReader layout.
func (r *Resources) AddPreserialized(name, typeName string, format int, payload []byte) *Resources {
	var b bytes.Buffer
	write7Bit(&b, format)
	write7Bit(&b, len(payload))
	b.Write(payload)
	return r.AddObject(name, typeName, b.Bytes())
}

func (r *Resources) Bytes() []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint32(resourceMagic))
	binary.Write(&out, binary.LittleEndian, int32(1))

	var header bytes.Buffer
	writeString(&header, r.ReaderType)
	writeString(&header, defaultSetType)
	binary.Write(&out, binary.LittleEndian, int32(header.Len()))
	out.Write(header.Bytes())

	binary.Write(&out, binary.LittleEndian, int32(2))
	binary.Write(&out, binary.LittleEndian, int32(len(r.entries)))
	binary.Write(&out, binary.LittleEndian, int32(len(r.types)))
	for _, t := range r.types {
		writeString(&out, t)
	}
	for i := 0; out.Len()&7 != 0; i++ {
		out.WriteByte("PAD"[i%3])
	}

	entries := make([]resourceEntry, len(r.entries))
	copy(entries, r.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		return HashName(entries[i].name) < HashName(entries[j].name)
	})

	var names, data bytes.Buffer
	positions := make([]int32, len(entries))
	for i, e := range entries {
		positions[i] = int32(names.Len())
		encoded := utf16.Encode([]rune(e.name))
		write7Bit(&names, len(encoded)*2)
		binary.Write(&names, binary.LittleEndian, encoded)
		binary.Write(&names, binary.LittleEndian, int32(data.Len()))
		data.Write(e.data)
	}

	for _, e := range entries {
		binary.Write(&out, binary.LittleEndian, HashName(e.name))
	}
	binary.Write(&out, binary.LittleEndian, positions)
	dataSection := out.Len() + 4 + names.Len()
	binary.Write(&out, binary.LittleEndian, int32(dataSection))
	out.Write(names.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}

// HashName is the resource-name hash stored ahead of the name table.
func HashName(name string) int32 {
	hash := uint32(5381)
	for _, c := range utf16.Encode([]rune(name)) {
		hash = ((hash << 5) + hash) ^ uint32(c)
	}
	return int32(hash)
}

func write7Bit(b *bytes.Buffer, v int) {
	u := uint32(v)
	for u >= 0x80 {
		b.WriteByte(byte(u) | 0x80)
		u >>= 7
	}
	b.WriteByte(byte(u))
}

func writeString(b *bytes.Buffer, s string) {
	write7Bit(b, len(s))
	b.WriteString(s)
}

func lengthPrefixed(data []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, int32(len(data)))
	b.Write(data)
	return b.Bytes()
}
