package resources

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// A closed reader for the MS-NRBF records that designer-generated resources contain. It never
// instantiates anything: values are kept as plain Go data so callers can pull out byte arrays
// and strings by member name.

var ErrUnsupportedRecord = errors.New("unsupported binary formatter record")

const maxDepth = 32

const (
	recordHeader                 = 0
	recordClassWithID            = 1
	recordSystemClassWithMembers = 2
	recordClassWithMembers       = 3
	recordSystemClassWithTypes   = 4
	recordClassWithTypes         = 5
	recordObjectString           = 6
	recordBinaryArray            = 7
	recordMemberPrimitiveTyped   = 8
	recordMemberReference        = 9
	recordObjectNull             = 10
	recordMessageEnd             = 11
	recordBinaryLibrary          = 12
	recordObjectNullMultiple256  = 13
	recordObjectNullMultiple     = 14
	recordArraySinglePrimitive   = 15
	recordArraySingleObject      = 16
	recordArraySingleString      = 17
)

const (
	binaryTypePrimitive      = 0
	binaryTypeString         = 1
	binaryTypeObject         = 2
	binaryTypeSystemClass    = 3
	binaryTypeClass          = 4
	binaryTypeObjectArray    = 5
	binaryTypeStringArray    = 6
	binaryTypePrimitiveArray = 7
)

const (
	primitiveBoolean  = 1
	primitiveByte     = 2
	primitiveChar     = 3
	primitiveDecimal  = 5
	primitiveDouble   = 6
	primitiveInt16    = 7
	primitiveInt32    = 8
	primitiveInt64    = 9
	primitiveSByte    = 10
	primitiveSingle   = 11
	primitiveTimeSpan = 12
	primitiveDateTime = 13
	primitiveUInt16   = 14
	primitiveUInt32   = 15
	primitiveUInt64   = 16
	primitiveNull     = 17
	primitiveString   = 18
)

// Object is a decoded class record.
type Object struct {
	ID      int32
	Class   string
	Library string
	Members []string
	Values  []any
}

// Reference is an unresolved pointer to a record with the given object id.
type Reference int32

type nullRun int

type classInfo struct {
	name    string
	members []string
	types   []byte
	extra   []any
	library int32
}

// Graph is the set of records from one serialized stream.
type Graph struct {
	Root      int32
	objects   map[int32]any
	libraries map[int32]string
}

type nrbfReader struct {
	buf     *bytes.Reader
	graph   *Graph
	classes map[int32]*classInfo
}

// DecodeGraph reads records up to MessageEnd.
func DecodeGraph(data []byte) (*Graph, error) {
	r := &nrbfReader{
		buf:     bytes.NewReader(data),
		graph:   &Graph{objects: map[int32]any{}, libraries: map[int32]string{}},
		classes: map[int32]*classInfo{},
	}

	kind, err := r.buf.ReadByte()
	if err != nil || kind != recordHeader {
		return nil, errors.Wrap(ErrUnsupportedRecord, "missing serialization header")
	}
	var header [4]int32
	if err = binary.Read(r.buf, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "unable to read serialization header")
	}
	r.graph.Root = header[0]

	for {
		_, end, err := r.record(0)
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
	}
	return r.graph, nil
}

func (g *Graph) resolve(v any) any {
	for i := 0; i < maxDepth; i++ {
		ref, ok := v.(Reference)
		if !ok {
			return v
		}
		v = g.objects[int32(ref)]
	}
	return nil
}

// RootObject returns the top-level class record.
func (g *Graph) RootObject() (*Object, bool) {
	obj, ok := g.resolve(Reference(g.Root)).(*Object)
	return obj, ok
}

// Member looks a member up by name and follows references.
func (g *Graph) Member(obj *Object, name string) any {
	for i, m := range obj.Members {
		if m == name {
			return g.resolve(obj.Values[i])
		}
	}
	return nil
}

func (g *Graph) Bytes(obj *Object, name string) ([]byte, bool) {
	b, ok := g.Member(obj, name).([]byte)
	return b, ok
}

func (g *Graph) String(obj *Object, name string) (string, bool) {
	s, ok := g.Member(obj, name).(string)
	return s, ok
}

func (r *nrbfReader) int32() (int32, error) {
	var v int32
	err := binary.Read(r.buf, binary.LittleEndian, &v)
	return v, err
}

func (r *nrbfReader) lengthPrefixed() (string, error) {
	var length uint32
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.buf.ReadByte()
		if err != nil {
			return "", err
		}
		length |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
	}
	if int64(length) > int64(r.buf.Len()) {
		return "", errors.Wrap(ErrUnsupportedRecord, "string length exceeds stream")
	}
	out := make([]byte, length)
	_, err := io.ReadFull(r.buf, out)
	return string(out), err
}

// record reads one record. end is true on MessageEnd.
func (r *nrbfReader) record(depth int) (any, bool, error) {
	if depth > maxDepth {
		return nil, false, errors.Wrap(ErrUnsupportedRecord, "object graph too deep")
	}
	kind, err := r.buf.ReadByte()
	if err != nil {
		return nil, false, errors.Wrap(err, "unexpected end of serialized stream")
	}

	switch kind {
	case recordMessageEnd:
		return nil, true, nil
	case recordBinaryLibrary:
		id, err := r.int32()
		if err != nil {
			return nil, false, err
		}
		name, err := r.lengthPrefixed()
		if err != nil {
			return nil, false, err
		}
		r.graph.libraries[id] = name
		// a library record always precedes the record that uses it
		return r.record(depth)
	case recordClassWithTypes, recordSystemClassWithTypes:
		info, id, err := r.classInfo(kind == recordClassWithTypes)
		if err != nil {
			return nil, false, err
		}
		return r.classValues(id, info, depth)
	case recordClassWithID:
		id, err := r.int32()
		if err != nil {
			return nil, false, err
		}
		metadataID, err := r.int32()
		if err != nil {
			return nil, false, err
		}
		info, ok := r.classes[metadataID]
		if !ok {
			return nil, false, errors.Wrapf(ErrUnsupportedRecord, "unknown class metadata %d", metadataID)
		}
		return r.classValues(id, info, depth)
	case recordObjectString:
		id, err := r.int32()
		if err != nil {
			return nil, false, err
		}
		s, err := r.lengthPrefixed()
		if err != nil {
			return nil, false, err
		}
		r.graph.objects[id] = s
		return s, false, nil
	case recordMemberPrimitiveTyped:
		t, err := r.buf.ReadByte()
		if err != nil {
			return nil, false, err
		}
		v, err := r.primitive(t)
		return v, false, err
	case recordMemberReference:
		id, err := r.int32()
		return Reference(id), false, err
	case recordObjectNull:
		return nil, false, nil
	case recordObjectNullMultiple256:
		n, err := r.buf.ReadByte()
		return nullRun(n), false, err
	case recordObjectNullMultiple:
		n, err := r.int32()
		return nullRun(n), false, err
	case recordArraySinglePrimitive:
		return r.primitiveArray()
	case recordArraySingleObject, recordArraySingleString:
		return r.objectArray(depth)
	}
	return nil, false, errors.Wrapf(ErrUnsupportedRecord, "record type %d", kind)
}

func (r *nrbfReader) classInfo(withLibrary bool) (*classInfo, int32, error) {
	var err error
	info := &classInfo{library: -1}

	id, err := r.int32()
	if err != nil {
		return nil, 0, err
	}
	if info.name, err = r.lengthPrefixed(); err != nil {
		return nil, 0, err
	}
	count, err := r.int32()
	if err != nil || count < 0 || int64(count) > int64(r.buf.Len()) {
		return nil, 0, errors.Wrap(ErrUnsupportedRecord, "bad member count")
	}
	info.members = make([]string, count)
	for i := range info.members {
		if info.members[i], err = r.lengthPrefixed(); err != nil {
			return nil, 0, err
		}
	}
	info.types = make([]byte, count)
	if _, err = io.ReadFull(r.buf, info.types); err != nil {
		return nil, 0, err
	}
	info.extra = make([]any, count)
	for i, t := range info.types {
		switch t {
		case binaryTypePrimitive, binaryTypePrimitiveArray:
			p, err := r.buf.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			info.extra[i] = p
		case binaryTypeSystemClass:
			name, err := r.lengthPrefixed()
			if err != nil {
				return nil, 0, err
			}
			info.extra[i] = name
		case binaryTypeClass:
			name, err := r.lengthPrefixed()
			if err != nil {
				return nil, 0, err
			}
			if _, err = r.int32(); err != nil {
				return nil, 0, err
			}
			info.extra[i] = name
		case binaryTypeString, binaryTypeObject, binaryTypeObjectArray, binaryTypeStringArray:
		default:
			return nil, 0, errors.Wrapf(ErrUnsupportedRecord, "binary type %d", t)
		}
	}
	if withLibrary {
		if info.library, err = r.int32(); err != nil {
			return nil, 0, err
		}
	}
	r.classes[id] = info
	return info, id, nil
}

func (r *nrbfReader) classValues(id int32, info *classInfo, depth int) (any, bool, error) {
	obj := &Object{
		ID:      id,
		Class:   info.name,
		Library: r.graph.libraries[info.library],
		Members: info.members,
		Values:  make([]any, len(info.members)),
	}
	r.graph.objects[id] = obj

	for i := 0; i < len(info.members); i++ {
		if info.types[i] == binaryTypePrimitive {
			v, err := r.primitive(info.extra[i].(byte))
			if err != nil {
				return nil, false, err
			}
			obj.Values[i] = v
			continue
		}
		v, end, err := r.record(depth + 1)
		if err != nil {
			return nil, false, err
		}
		if end {
			return nil, false, errors.Wrap(ErrUnsupportedRecord, "message ended inside an object")
		}
		if run, ok := v.(nullRun); ok {
			i += int(run) - 1
			continue
		}
		obj.Values[i] = v
	}
	return obj, false, nil
}

func (r *nrbfReader) primitiveArray() (any, bool, error) {
	id, err := r.int32()
	if err != nil {
		return nil, false, err
	}
	length, err := r.int32()
	if err != nil || length < 0 || int64(length) > int64(r.buf.Len()) {
		return nil, false, errors.Wrap(ErrUnsupportedRecord, "bad array length")
	}
	t, err := r.buf.ReadByte()
	if err != nil {
		return nil, false, err
	}
	if t == primitiveByte {
		data := make([]byte, length)
		if _, err = io.ReadFull(r.buf, data); err != nil {
			return nil, false, errors.Wrap(err, "truncated byte array")
		}
		r.graph.objects[id] = data
		return data, false, nil
	}
	values := make([]any, length)
	for i := range values {
		if values[i], err = r.primitive(t); err != nil {
			return nil, false, err
		}
	}
	r.graph.objects[id] = values
	return values, false, nil
}

func (r *nrbfReader) objectArray(depth int) (any, bool, error) {
	id, err := r.int32()
	if err != nil {
		return nil, false, err
	}
	length, err := r.int32()
	if err != nil || length < 0 || int64(length) > int64(r.buf.Len()) {
		return nil, false, errors.Wrap(ErrUnsupportedRecord, "bad array length")
	}
	values := make([]any, length)
	r.graph.objects[id] = values
	for i := 0; i < int(length); i++ {
		v, end, err := r.record(depth + 1)
		if err != nil {
			return nil, false, err
		}
		if end {
			return nil, false, errors.Wrap(ErrUnsupportedRecord, "message ended inside an array")
		}
		if run, ok := v.(nullRun); ok {
			i += int(run) - 1
			continue
		}
		values[i] = v
	}
	return values, false, nil
}

func (r *nrbfReader) primitive(t byte) (any, error) {
	var err error
	switch t {
	case primitiveBoolean:
		b, err := r.buf.ReadByte()
		return b != 0, err
	case primitiveByte:
		return r.buf.ReadByte()
	case primitiveSByte:
		b, err := r.buf.ReadByte()
		return int8(b), err
	case primitiveChar:
		ch, _, err := r.buf.ReadRune()
		return ch, err
	case primitiveInt16:
		var v int16
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return v, err
	case primitiveUInt16:
		var v uint16
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return v, err
	case primitiveInt32:
		return r.int32()
	case primitiveUInt32:
		var v uint32
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return v, err
	case primitiveInt64, primitiveTimeSpan, primitiveDateTime:
		var v int64
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return v, err
	case primitiveUInt64:
		var v uint64
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return v, err
	case primitiveSingle:
		var v uint32
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return math.Float32frombits(v), err
	case primitiveDouble:
		var v uint64
		err = binary.Read(r.buf, binary.LittleEndian, &v)
		return math.Float64frombits(v), err
	case primitiveDecimal, primitiveString:
		return r.lengthPrefixed()
	case primitiveNull:
		return nil, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedRecord, "primitive type %d", t)
}
