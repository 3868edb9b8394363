package assembly

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ECMA-335 partition II, 24.2 (physical layout) and 22 (table columns).

const metadataSignature = 0x424A5342 // BSJB

const (
	tableModule           = 0x00
	tableTypeRef          = 0x01
	tableTypeDef          = 0x02
	tableFieldPtr         = 0x03
	tableField            = 0x04
	tableMethodPtr        = 0x05
	tableMethodDef        = 0x06
	tableParamPtr         = 0x07
	tableParam            = 0x08
	tableInterfaceImpl    = 0x09
	tableMemberRef        = 0x0A
	tableConstant         = 0x0B
	tableCustomAttribute  = 0x0C
	tableFieldMarshal     = 0x0D
	tableDeclSecurity     = 0x0E
	tableClassLayout      = 0x0F
	tableFieldLayout      = 0x10
	tableStandAloneSig    = 0x11
	tableEventMap         = 0x12
	tableEventPtr         = 0x13
	tableEvent            = 0x14
	tablePropertyMap      = 0x15
	tablePropertyPtr      = 0x16
	tableProperty         = 0x17
	tableMethodSemantics  = 0x18
	tableMethodImpl       = 0x19
	tableModuleRef        = 0x1A
	tableTypeSpec         = 0x1B
	tableImplMap          = 0x1C
	tableFieldRVA         = 0x1D
	tableEncLog           = 0x1E
	tableEncMap           = 0x1F
	tableAssembly         = 0x20
	tableAssemblyProc     = 0x21
	tableAssemblyOS       = 0x22
	tableAssemblyRef      = 0x23
	tableAssemblyRefProc  = 0x24
	tableAssemblyRefOS    = 0x25
	tableFile             = 0x26
	tableExportedType     = 0x27
	tableManifestResource = 0x28
	tableNestedClass      = 0x29
	tableGenericParam     = 0x2A
	tableMethodSpec       = 0x2B
	tableGenericParamCons = 0x2C
	tableCount            = 0x40
)

type columnKind int

const (
	colU16 columnKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type codedIndex struct {
	bits   uint
	tables []int
}

// -1 marks tag values with no table behind them.
var (
	codedTypeDefOrRef        = &codedIndex{2, []int{tableTypeDef, tableTypeRef, tableTypeSpec}}
	codedHasConstant         = &codedIndex{2, []int{tableField, tableParam, tableProperty}}
	codedHasFieldMarshal     = &codedIndex{1, []int{tableField, tableParam}}
	codedHasDeclSecurity     = &codedIndex{2, []int{tableTypeDef, tableMethodDef, tableAssembly}}
	codedMemberRefParent     = &codedIndex{3, []int{tableTypeDef, tableTypeRef, tableModuleRef, tableMethodDef, tableTypeSpec}}
	codedHasSemantics        = &codedIndex{1, []int{tableEvent, tableProperty}}
	codedMethodDefOrRef      = &codedIndex{1, []int{tableMethodDef, tableMemberRef}}
	codedMemberForwarded     = &codedIndex{1, []int{tableField, tableMethodDef}}
	codedImplementation      = &codedIndex{2, []int{tableFile, tableAssemblyRef, tableExportedType}}
	codedCustomAttributeType = &codedIndex{3, []int{-1, -1, tableMethodDef, tableMemberRef, -1}}
	codedResolutionScope     = &codedIndex{2, []int{tableModule, tableModuleRef, tableAssemblyRef, tableTypeRef}}
	codedTypeOrMethodDef     = &codedIndex{1, []int{tableTypeDef, tableMethodDef}}
	codedHasCustomAttribute  = &codedIndex{5, []int{
		tableMethodDef, tableField, tableTypeRef, tableTypeDef, tableParam, tableInterfaceImpl,
		tableMemberRef, tableModule, tableDeclSecurity, tableProperty, tableEvent, tableStandAloneSig,
		tableModuleRef, tableTypeSpec, tableAssembly, tableAssemblyRef, tableFile, tableExportedType,
		tableManifestResource, tableGenericParam, tableGenericParamCons, tableMethodSpec,
	}}
)

type column struct {
	kind  columnKind
	table int
	coded *codedIndex
}

var (
	u16 = column{kind: colU16}
	u32 = column{kind: colU32}
	str = column{kind: colString}
	gid = column{kind: colGUID}
	blb = column{kind: colBlob}
)

func idx(table int) column       { return column{kind: colTable, table: table} }
func coded(c *codedIndex) column { return column{kind: colCoded, coded: c} }

var tableSchema = map[int][]column{
	tableModule:           {u16, str, gid, gid, gid},
	tableTypeRef:          {coded(codedResolutionScope), str, str},
	tableTypeDef:          {u32, str, str, coded(codedTypeDefOrRef), idx(tableField), idx(tableMethodDef)},
	tableFieldPtr:         {idx(tableField)},
	tableField:            {u16, str, blb},
	tableMethodPtr:        {idx(tableMethodDef)},
	tableMethodDef:        {u32, u16, u16, str, blb, idx(tableParam)},
	tableParamPtr:         {idx(tableParam)},
	tableParam:            {u16, u16, str},
	tableInterfaceImpl:    {idx(tableTypeDef), coded(codedTypeDefOrRef)},
	tableMemberRef:        {coded(codedMemberRefParent), str, blb},
	tableConstant:         {u16, coded(codedHasConstant), blb},
	tableCustomAttribute:  {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blb},
	tableFieldMarshal:     {coded(codedHasFieldMarshal), blb},
	tableDeclSecurity:     {u16, coded(codedHasDeclSecurity), blb},
	tableClassLayout:      {u16, u32, idx(tableTypeDef)},
	tableFieldLayout:      {u32, idx(tableField)},
	tableStandAloneSig:    {blb},
	tableEventMap:         {idx(tableTypeDef), idx(tableEvent)},
	tableEventPtr:         {idx(tableEvent)},
	tableEvent:            {u16, str, coded(codedTypeDefOrRef)},
	tablePropertyMap:      {idx(tableTypeDef), idx(tableProperty)},
	tablePropertyPtr:      {idx(tableProperty)},
	tableProperty:         {u16, str, blb},
	tableMethodSemantics:  {u16, idx(tableMethodDef), coded(codedHasSemantics)},
	tableMethodImpl:       {idx(tableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	tableModuleRef:        {str},
	tableTypeSpec:         {blb},
	tableImplMap:          {u16, coded(codedMemberForwarded), str, idx(tableModuleRef)},
	tableFieldRVA:         {u32, idx(tableField)},
	tableEncLog:           {u32, u32},
	tableEncMap:           {u32},
	tableAssembly:         {u32, u16, u16, u16, u16, u32, blb, str, str},
	tableAssemblyProc:     {u32},
	tableAssemblyOS:       {u32, u32, u32},
	tableAssemblyRef:      {u16, u16, u16, u16, u32, blb, str, str, blb},
	tableAssemblyRefProc:  {u32, idx(tableAssemblyRef)},
	tableAssemblyRefOS:    {u32, u32, u32, idx(tableAssemblyRef)},
	tableFile:             {u32, str, blb},
	tableExportedType:     {u32, u32, str, str, coded(codedImplementation)},
	tableManifestResource: {u32, u32, str, coded(codedImplementation)},
	tableNestedClass:      {idx(tableTypeDef), idx(tableTypeDef)},
	tableGenericParam:     {u16, u16, coded(codedTypeOrMethodDef), str},
	tableMethodSpec:       {coded(codedMethodDefOrRef), blb},
	tableGenericParamCons: {idx(tableGenericParam), coded(codedTypeDefOrRef)},
}

type metadata struct {
	version string

	strings []byte
	blobs   []byte
	guids   []byte

	heapSizes byte
	rows      [tableCount]uint32
	offsets   [tableCount]int
	rowSize   [tableCount]int
	widths    [tableCount][]int
	tables    []byte
}

type streamHeader struct {
	offset uint32
	size   uint32
	name   string
}

func parseMetadata(data []byte) (*metadata, error) {
	var err error
	var md metadata

	buf := bytes.NewReader(data)
	var root struct {
		Signature uint32
		Major     uint16
		Minor     uint16
		Reserved  uint32
		Length    uint32
	}
	err = binary.Read(buf, binary.LittleEndian, &root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read metadata root")
	}
	if root.Signature != metadataSignature {
		return nil, errors.Wrapf(ErrNoMetadata, "bad metadata signature 0x%x", root.Signature)
	}
	if int(root.Length) > buf.Len() {
		return nil, errors.Wrap(ErrNoMetadata, "metadata version string is truncated")
	}
	version := make([]byte, root.Length)
	buf.Read(version)
	md.version = string(bytes.TrimRight(version, "\x00"))

	var flags, count uint16
	binary.Read(buf, binary.LittleEndian, &flags)
	err = binary.Read(buf, binary.LittleEndian, &count)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read stream count")
	}

	var tilde []byte
	for i := 0; i < int(count); i++ {
		var h streamHeader
		err = binary.Read(buf, binary.LittleEndian, &h.offset)
		if err == nil {
			err = binary.Read(buf, binary.LittleEndian, &h.size)
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to read stream header")
		}
		h.name, err = readAlignedName(buf)
		if err != nil {
			return nil, err
		}
		end := uint64(h.offset) + uint64(h.size)
		if end > uint64(len(data)) {
			return nil, errors.Wrapf(ErrNoMetadata, "stream %s exceeds metadata bounds", h.name)
		}
		content := data[h.offset:end]
		switch h.name {
		case "#~", "#-":
			tilde = content
		case "#Strings":
			md.strings = content
		case "#Blob":
			md.blobs = content
		case "#GUID":
			md.guids = content
		}
	}
	if tilde == nil {
		return nil, errors.Wrap(ErrNoMetadata, "no table stream")
	}
	if err = md.parseTables(tilde); err != nil {
		return nil, err
	}
	return &md, nil
}

func readAlignedName(buf *bytes.Reader) (string, error) {
	var name []byte
	for {
		chunk := make([]byte, 4)
		if _, err := io.ReadFull(buf, chunk); err != nil {
			return "", errors.Wrap(err, "unable to read stream name")
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			name = append(name, chunk[:i]...)
			return string(name), nil
		}
		name = append(name, chunk...)
		if len(name) > 32 {
			return "", errors.Wrap(ErrNoMetadata, "stream name too long")
		}
	}
}

func (md *metadata) parseTables(data []byte) error {
	var err error
	buf := bytes.NewReader(data)

	var header struct {
		Reserved  uint32
		Major     uint8
		Minor     uint8
		HeapSizes uint8
		Reserved2 uint8
		Valid     uint64
		Sorted    uint64
	}
	err = binary.Read(buf, binary.LittleEndian, &header)
	if err != nil {
		return errors.Wrap(err, "unable to read table stream header")
	}
	md.heapSizes = header.HeapSizes

	for i := 0; i < tableCount; i++ {
		if header.Valid&(uint64(1)<<i) == 0 {
			continue
		}
		err = binary.Read(buf, binary.LittleEndian, &md.rows[i])
		if err != nil {
			return errors.Wrap(err, "unable to read table row counts")
		}
	}
	if header.HeapSizes&0x40 != 0 {
		buf.Seek(4, io.SeekCurrent)
	}

	offset := len(data) - buf.Len()
	for i := 0; i < tableCount; i++ {
		if md.rows[i] == 0 {
			continue
		}
		schema, ok := tableSchema[i]
		if !ok {
			return errors.Wrapf(ErrNoMetadata, "unknown metadata table 0x%02x", i)
		}
		md.widths[i] = make([]int, len(schema))
		for c, col := range schema {
			md.widths[i][c] = md.columnWidth(col)
			md.rowSize[i] += md.widths[i][c]
		}
		md.offsets[i] = offset
		offset += md.rowSize[i] * int(md.rows[i])
		if offset > len(data) {
			return errors.Wrapf(ErrNoMetadata, "metadata table 0x%02x is truncated", i)
		}
	}
	md.tables = data
	return nil
}

func (md *metadata) columnWidth(col column) int {
	switch col.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colString:
		return md.heapWidth(0x01)
	case colGUID:
		return md.heapWidth(0x02)
	case colBlob:
		return md.heapWidth(0x04)
	case colTable:
		if md.rows[col.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		var largest uint32
		for _, t := range col.coded.tables {
			if t >= 0 && md.rows[t] > largest {
				largest = md.rows[t]
			}
		}
		if largest >= 1<<(16-col.coded.bits) {
			return 4
		}
		return 2
	}
	return 0
}

func (md *metadata) heapWidth(flag byte) int {
	if md.heapSizes&flag != 0 {
		return 4
	}
	return 2
}

// cell returns column c of the 1-based row in table t.
func (md *metadata) cell(t int, row uint32, c int) uint32 {
	if row == 0 || row > md.rows[t] {
		return 0
	}
	pos := md.offsets[t] + int(row-1)*md.rowSize[t]
	for i := 0; i < c; i++ {
		pos += md.widths[t][i]
	}
	if md.widths[t][c] == 4 {
		return binary.LittleEndian.Uint32(md.tables[pos:])
	}
	return uint32(binary.LittleEndian.Uint16(md.tables[pos:]))
}

func (md *metadata) str(offset uint32) string {
	if int(offset) >= len(md.strings) {
		return ""
	}
	s := md.strings[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

func (md *metadata) blob(offset uint32) []byte {
	if int(offset) >= len(md.blobs) {
		return nil
	}
	data := md.blobs[offset:]
	var length, header int
	switch {
	case data[0]&0x80 == 0:
		length, header = int(data[0]), 1
	case data[0]&0xC0 == 0x80 && len(data) >= 2:
		length, header = int(data[0]&0x3F)<<8|int(data[1]), 2
	case data[0]&0xE0 == 0xC0 && len(data) >= 4:
		length, header = int(data[0]&0x1F)<<24|int(data[1])<<16|int(data[2])<<8|int(data[3]), 4
	default:
		return nil
	}
	if header+length > len(data) {
		return nil
	}
	return data[header : header+length]
}

func decodeCoded(c *codedIndex, value uint32) (table int, row uint32) {
	tag := value & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) {
		return -1, 0
	}
	return c.tables[tag], value >> c.bits
}
