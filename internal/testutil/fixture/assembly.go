package fixture

import (
	"bytes"
	"encoding/binary"
	"os"
)

const (
	MachineI386  = 0x14C
	MachineAMD64 = 0x8664

	CLRILOnly      = 0x1
	CLR32BitNeeded = 0x2

	textRVA        = 0x2000
	textFileOffset = 0x200
	lfanew         = 0x80
)

type Resource struct {
	Name string
	Data []byte
	// File names a linked module holding the resource; AssemblyRef names a satellite.
	File        string
	AssemblyRef string
}

// Assembly describes a minimal managed PE image.
type Assembly struct {
	Name      string
	Version   [4]uint16
	Machine   uint16
	CLRFlags  uint32
	PE64      bool
	Exe       bool
	Resources []Resource
	// NoCLR produces a native image with an empty runtime header directory.
	NoCLR bool
}

func NewAssembly(name string) *Assembly {
	return &Assembly{
		Name:     name,
		Version:  [4]uint16{1, 0, 0, 0},
		Machine:  MachineI386,
		CLRFlags: CLRILOnly,
	}
}

func (a *Assembly) WithResource(name string, data []byte) *Assembly {
	a.Resources = append(a.Resources, Resource{Name: name, Data: data})
	return a
}

func (a *Assembly) WriteFile(path string) error {
	return os.WriteFile(path, a.Bytes(), 0o644)
}

type stringHeap struct {
	buf   bytes.Buffer
	index map[string]uint16
}

func (h *stringHeap) add(s string) uint16 {
	if s == "" {
		return 0
	}
	if off, ok := h.index[s]; ok {
		return off
	}
	off := uint16(h.buf.Len())
	h.buf.WriteString(s)
	h.buf.WriteByte(0)
	h.index[s] = off
	return off
}

func pad(b *bytes.Buffer, align int) {
	for b.Len()%align != 0 {
		b.WriteByte(0)
	}
}

func (a *Assembly) metadata() []byte {
	strs := &stringHeap{index: map[string]uint16{}}
	strs.buf.WriteByte(0)

	var files, refs []string
	for _, r := range a.Resources {
		if r.File != "" && !contains(files, r.File) {
			files = append(files, r.File)
		}
		if r.AssemblyRef != "" && !contains(refs, r.AssemblyRef) {
			refs = append(refs, r.AssemblyRef)
		}
	}

	moduleName := a.Name + ".dll"
	if a.Exe {
		moduleName = a.Name + ".exe"
	}

	var tables bytes.Buffer
	valid := uint64(1)<<0x00 | uint64(1)<<0x20
	rows := []uint32{1, 1}
	if len(refs) > 0 {
		valid |= uint64(1) << 0x23
		rows = append(rows, uint32(len(refs)))
	}
	if len(files) > 0 {
		valid |= uint64(1) << 0x26
		rows = append(rows, uint32(len(files)))
	}
	if len(a.Resources) > 0 {
		valid |= uint64(1) << 0x28
		rows = append(rows, uint32(len(a.Resources)))
	}

	// Module
	binary.Write(&tables, binary.LittleEndian, []uint16{0, strs.add(moduleName), 1, 0, 0})
	// Assembly
	binary.Write(&tables, binary.LittleEndian, uint32(0x8004))
	binary.Write(&tables, binary.LittleEndian, a.Version)
	binary.Write(&tables, binary.LittleEndian, uint32(0))
	binary.Write(&tables, binary.LittleEndian, []uint16{0, strs.add(a.Name), 0})
	// AssemblyRef
	for _, ref := range refs {
		binary.Write(&tables, binary.LittleEndian, []uint16{1, 0, 0, 0})
		binary.Write(&tables, binary.LittleEndian, uint32(0))
		binary.Write(&tables, binary.LittleEndian, []uint16{0, strs.add(ref), 0, 0})
	}
	// File
	for _, f := range files {
		binary.Write(&tables, binary.LittleEndian, uint32(1))
		binary.Write(&tables, binary.LittleEndian, []uint16{strs.add(f), 0})
	}
	// ManifestResource
	var offset uint32
	for _, r := range a.Resources {
		var impl uint16
		var resOffset uint32
		switch {
		case r.File != "":
			impl = uint16(index(files, r.File)+1) << 2
		case r.AssemblyRef != "":
			impl = uint16(index(refs, r.AssemblyRef)+1)<<2 | 1
		default:
			resOffset = offset
			offset += uint32(4 + len(r.Data))
			offset = (offset + 7) &^ 7
		}
		binary.Write(&tables, binary.LittleEndian, resOffset)
		binary.Write(&tables, binary.LittleEndian, uint32(1))
		binary.Write(&tables, binary.LittleEndian, []uint16{strs.add(r.Name), impl})
	}

	var tilde bytes.Buffer
	binary.Write(&tilde, binary.LittleEndian, uint32(0))
	tilde.Write([]byte{2, 0, 0, 1})
	binary.Write(&tilde, binary.LittleEndian, valid)
	binary.Write(&tilde, binary.LittleEndian, uint64(0))
	binary.Write(&tilde, binary.LittleEndian, rows)
	tilde.Write(tables.Bytes())
	pad(&tilde, 4)

	pad(&strs.buf, 4)
	guid := make([]byte, 16)
	copy(guid, a.Name)
	blob := []byte{0, 0, 0, 0}

	type stream struct {
		name string
		data []byte
	}
	streams := []stream{
		{"#~", tilde.Bytes()},
		{"#Strings", strs.buf.Bytes()},
		{"#GUID", guid},
		{"#Blob", blob},
	}

	version := "v4.0.30319"
	headerLen := 16 + 12 + 4
	for _, s := range streams {
		headerLen += 8 + (len(s.name)+4)&^3
	}

	var md bytes.Buffer
	binary.Write(&md, binary.LittleEndian, uint32(0x424A5342))
	binary.Write(&md, binary.LittleEndian, []uint16{1, 1})
	binary.Write(&md, binary.LittleEndian, []uint32{0, 12})
	v := make([]byte, 12)
	copy(v, version)
	md.Write(v)
	binary.Write(&md, binary.LittleEndian, []uint16{0, uint16(len(streams))})
	off := headerLen
	for _, s := range streams {
		binary.Write(&md, binary.LittleEndian, []uint32{uint32(off), uint32(len(s.data))})
		md.WriteString(s.name)
		md.WriteByte(0)
		pad(&md, 4)
		off += len(s.data)
	}
	for _, s := range streams {
		md.Write(s.data)
	}
	return md.Bytes()
}

func (a *Assembly) text() []byte {
	md := a.metadata()
	mdRVA := uint32(textRVA + 72)

	var res bytes.Buffer
	for _, r := range a.Resources {
		if r.File != "" || r.AssemblyRef != "" {
			continue
		}
		binary.Write(&res, binary.LittleEndian, uint32(len(r.Data)))
		res.Write(r.Data)
		pad(&res, 8)
	}
	resRVA := (mdRVA + uint32(len(md)) + 7) &^ 7

	var text bytes.Buffer
	binary.Write(&text, binary.LittleEndian, uint32(72))
	binary.Write(&text, binary.LittleEndian, []uint16{2, 5})
	binary.Write(&text, binary.LittleEndian, []uint32{mdRVA, uint32(len(md))})
	binary.Write(&text, binary.LittleEndian, []uint32{a.CLRFlags, 0})
	if res.Len() > 0 {
		binary.Write(&text, binary.LittleEndian, []uint32{resRVA, uint32(res.Len())})
	} else {
		binary.Write(&text, binary.LittleEndian, []uint32{0, 0})
	}
	text.Write(make([]byte, 72-text.Len()))
	text.Write(md)
	pad(&text, 8)
	text.Write(res.Bytes())
	pad(&text, 0x200)
	return text.Bytes()
}

// Bytes renders the whole PE image.
func (a *Assembly) Bytes() []byte {
	text := a.text()
	sizeOfImage := uint32(textRVA + (len(text)+0x1FFF)&^0x1FFF)

	var dirs [16][2]uint32
	if !a.NoCLR {
		dirs[14] = [2]uint32{textRVA, 72}
	}

	var b bytes.Buffer
	b.WriteString("MZ")
	b.Write(make([]byte, 0x3C-2))
	binary.Write(&b, binary.LittleEndian, uint32(lfanew))
	b.Write(make([]byte, lfanew-b.Len()))

	b.WriteString("PE\x00\x00")
	characteristics := uint16(0x0002 | 0x0100)
	if !a.Exe {
		characteristics |= 0x2000
	}
	optSize := uint16(224)
	if a.PE64 {
		optSize = 240
		characteristics &^= 0x0100
		characteristics |= 0x0020
	}
	binary.Write(&b, binary.LittleEndian, []uint16{a.Machine, 1})
	binary.Write(&b, binary.LittleEndian, []uint32{0, 0, 0})
	binary.Write(&b, binary.LittleEndian, []uint16{optSize, characteristics})

	if a.PE64 {
		binary.Write(&b, binary.LittleEndian, uint16(0x20B))
		b.Write([]byte{11, 0})
		binary.Write(&b, binary.LittleEndian, []uint32{uint32(len(text)), 0, 0, 0, textRVA})
		binary.Write(&b, binary.LittleEndian, uint64(0x180000000))
	} else {
		binary.Write(&b, binary.LittleEndian, uint16(0x10B))
		b.Write([]byte{11, 0})
		binary.Write(&b, binary.LittleEndian, []uint32{uint32(len(text)), 0, 0, 0, textRVA, 0})
		binary.Write(&b, binary.LittleEndian, uint32(0x10000000))
	}
	binary.Write(&b, binary.LittleEndian, []uint32{0x2000, 0x200})
	binary.Write(&b, binary.LittleEndian, []uint16{4, 0, 0, 0, 4, 0})
	binary.Write(&b, binary.LittleEndian, []uint32{0, sizeOfImage, 0x200, 0})
	binary.Write(&b, binary.LittleEndian, []uint16{3, 0x8540})
	if a.PE64 {
		binary.Write(&b, binary.LittleEndian, []uint64{0x400000, 0x4000, 0x100000, 0x2000})
	} else {
		binary.Write(&b, binary.LittleEndian, []uint32{0x100000, 0x1000, 0x100000, 0x1000})
	}
	binary.Write(&b, binary.LittleEndian, []uint32{0, 16})
	binary.Write(&b, binary.LittleEndian, dirs)

	var name [8]byte
	copy(name[:], ".text")
	b.Write(name[:])
	binary.Write(&b, binary.LittleEndian, []uint32{uint32(len(text)), textRVA, uint32(len(text)), textFileOffset, 0, 0})
	binary.Write(&b, binary.LittleEndian, []uint16{0, 0})
	binary.Write(&b, binary.LittleEndian, uint32(0x60000020))
	b.Write(make([]byte, textFileOffset-b.Len()))

	b.Write(text)
	return b.Bytes()
}

func contains(list []string, s string) bool {
	return index(list, s) >= 0
}

func index(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
