package assembly

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/saferwall/pe"

	"resextractor/internal/common"
	"resextractor/internal/pesniff"
)

var (
	ErrNotAssembly = errors.New("not a managed assembly")
	ErrNoMetadata  = errors.New("malformed CLR metadata")
	ErrUnresolved  = errors.New("unable to resolve reference")
	ErrNoResource  = errors.New("no such manifest resource")
)

const (
	machineI386  = 0x14C
	machineAMD64 = 0x8664
	machineARM64 = 0xAA64

	clrILOnly         = 0x00000001
	clr32BitRequired  = 0x00000002
	clrStrongNameSign = 0x00000008
	clr32BitPreferred = 0x00020000
)

type Location int

const (
	Embedded Location = iota
	LinkedFile
	LinkedAssembly
)

func (l Location) String() string {
	switch l {
	case LinkedFile:
		return "linked file"
	case LinkedAssembly:
		return "linked assembly"
	}
	return "embedded"
}

type ManifestResource struct {
	Name     string
	Offset   uint32
	Public   bool
	Location Location
	// Target is the file or assembly name holding a linked resource.
	Target string
}

type Reference struct {
	Name    string
	Version string
}

// IMAGE_COR20_HEADER
type clrHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                pesniff.DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               pesniff.DataDirectory
	StrongNameSignature     pesniff.DataDirectory
	CodeManagerTable        pesniff.DataDirectory
	VTableFixups            pesniff.DataDirectory
	ExportAddressTableJumps pesniff.DataDirectory
	ManagedNativeHeader     pesniff.DataDirectory
}

// Assembly is a metadata-only view of a managed module: nothing in it can run code.
type Assembly struct {
	Path           string
	Name           string
	Version        string
	ModuleName     string
	RuntimeVersion string
	Machine        uint16
	CLRFlags       uint32
	Arch           common.CPUArch
	Resources      []ManifestResource
	References     []Reference
	Files          []string

	data      []byte
	mapping   mmap.MMap
	file      *os.File
	image     *pe.File
	headers   clrHeader
	directory []pe.DataDirectory
	resolver  *Resolver
}

// Open maps path read-only and loads its CLR metadata. The resolver may be nil, in which case
// linked resources cannot be read.
func Open(path string, resolver *Resolver) (*Assembly, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to stat %s", path)
	}
	if info.Size() == 0 {
		f.Close()
		return nil, ErrNotAssembly
	}
	mapping, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "unable to map %s", path)
	}

	a, err := load(mapping)
	if err != nil {
		mapping.Unmap()
		f.Close()
		return nil, err
	}
	a.Path, _ = filepath.Abs(path)
	a.mapping = mapping
	a.file = f
	a.resolver = resolver
	if resolver != nil {
		resolver.Register(a)
	}
	return a, nil
}

// Load parses an image that is already in memory.
func Load(data []byte) (*Assembly, error) {
	return load(data)
}

func load(data []byte) (*Assembly, error) {
	if !pesniff.IsAssemblyBytes(data) {
		return nil, ErrNotAssembly
	}

	// the mapping is owned here; closing the saferwall file would unmap it from under us
	image, err := pe.NewBytes(data, &pe.Options{Fast: true})
	if err != nil {
		return nil, errors.Wrap(err, "unable to open PE image")
	}
	err = image.Parse()
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse PE headers")
	}

	a := &Assembly{data: data, image: image}
	a.Machine = uint16(image.NtHeader.FileHeader.Machine)
	a.directory = dataDirectories(image)
	if len(a.directory) <= pesniff.DirectoryCLR {
		return nil, ErrNotAssembly
	}

	clr := a.directory[pesniff.DirectoryCLR]
	raw, err := a.slice(clr.VirtualAddress, clr.Size)
	if err != nil {
		return nil, errors.Wrap(ErrNoMetadata, "CLR header is outside the image")
	}
	err = binary.Read(bytes.NewReader(raw), binary.LittleEndian, &a.headers)
	if err != nil {
		return nil, errors.Wrap(ErrNoMetadata, "CLR header is truncated")
	}
	a.CLRFlags = a.headers.Flags
	a.Arch = archOf(a.Machine, a.CLRFlags)

	raw, err = a.slice(a.headers.MetaData.VirtualAddress, a.headers.MetaData.Size)
	if err != nil {
		return nil, errors.Wrap(ErrNoMetadata, "metadata is outside the image")
	}
	md, err := parseMetadata(raw)
	if err != nil {
		return nil, err
	}
	a.RuntimeVersion = md.version
	a.readTables(md)
	return a, nil
}

func dataDirectories(image *pe.File) []pe.DataDirectory {
	switch oh := image.NtHeader.OptionalHeader.(type) {
	case pe.ImageOptionalHeader32:
		return oh.DataDirectory[:]
	case *pe.ImageOptionalHeader32:
		return oh.DataDirectory[:]
	case pe.ImageOptionalHeader64:
		return oh.DataDirectory[:]
	case *pe.ImageOptionalHeader64:
		return oh.DataDirectory[:]
	}
	return nil
}

func archOf(machine uint16, flags uint32) common.CPUArch {
	switch machine {
	case machineAMD64:
		return common.AMD64
	case machineARM64:
		return common.ARM64
	case machineI386:
		if flags&clrILOnly != 0 && flags&clr32BitRequired == 0 {
			return common.MultiArch
		}
		return common.X86
	}
	return common.Unknown
}

func (a *Assembly) readTables(md *metadata) {
	if md.rows[tableAssembly] > 0 {
		a.Name = md.str(md.cell(tableAssembly, 1, 7))
		a.Version = fmt.Sprintf("%d.%d.%d.%d",
			md.cell(tableAssembly, 1, 1), md.cell(tableAssembly, 1, 2),
			md.cell(tableAssembly, 1, 3), md.cell(tableAssembly, 1, 4))
	}
	if md.rows[tableModule] > 0 {
		a.ModuleName = md.str(md.cell(tableModule, 1, 1))
	}
	if a.Name == "" {
		a.Name = strings.TrimSuffix(a.ModuleName, filepath.Ext(a.ModuleName))
	}

	for row := uint32(1); row <= md.rows[tableAssemblyRef]; row++ {
		a.References = append(a.References, Reference{
			Name: md.str(md.cell(tableAssemblyRef, row, 6)),
			Version: fmt.Sprintf("%d.%d.%d.%d",
				md.cell(tableAssemblyRef, row, 0), md.cell(tableAssemblyRef, row, 1),
				md.cell(tableAssemblyRef, row, 2), md.cell(tableAssemblyRef, row, 3)),
		})
	}
	for row := uint32(1); row <= md.rows[tableFile]; row++ {
		a.Files = append(a.Files, md.str(md.cell(tableFile, row, 1)))
	}

	for row := uint32(1); row <= md.rows[tableManifestResource]; row++ {
		res := ManifestResource{
			Offset: md.cell(tableManifestResource, row, 0),
			Public: md.cell(tableManifestResource, row, 1)&0x7 == 1,
			Name:   md.str(md.cell(tableManifestResource, row, 2)),
		}
		table, target := decodeCoded(codedImplementation, md.cell(tableManifestResource, row, 3))
		switch {
		case target == 0:
			res.Location = Embedded
		case table == tableFile:
			res.Location = LinkedFile
			res.Target = md.str(md.cell(tableFile, target, 1))
		case table == tableAssemblyRef:
			res.Location = LinkedAssembly
			res.Target = md.str(md.cell(tableAssemblyRef, target, 6))
		default:
			continue
		}
		a.Resources = append(a.Resources, res)
	}
}

func (a *Assembly) rvaToOffset(rva uint32) (int64, bool) {
	for _, s := range a.image.Sections {
		size := s.Header.VirtualSize
		if s.Header.SizeOfRawData > size {
			size = s.Header.SizeOfRawData
		}
		if rva >= s.Header.VirtualAddress && rva < s.Header.VirtualAddress+size {
			return int64(rva-s.Header.VirtualAddress) + int64(s.Header.PointerToRawData), true
		}
	}
	return 0, false
}

func (a *Assembly) slice(rva, size uint32) ([]byte, error) {
	offset, ok := a.rvaToOffset(rva)
	if !ok || offset+int64(size) > int64(len(a.data)) {
		return nil, errors.Errorf("rva 0x%x+0x%x is outside the image", rva, size)
	}
	return a.data[offset : offset+int64(size)], nil
}

func (a *Assembly) ResourceNames() []string {
	var names []string
	for _, r := range a.Resources {
		names = append(names, r.Name)
	}
	return names
}

func (a *Assembly) HasResources() bool {
	return len(a.Resources) > 0
}

func (a *Assembly) Resource(name string) (ManifestResource, bool) {
	for _, r := range a.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ManifestResource{}, false
}

// OpenResource returns a copy of the named resource's bytes, following links to other modules.
func (a *Assembly) OpenResource(name string) ([]byte, error) {
	res, ok := a.Resource(name)
	if !ok {
		return nil, errors.Wrap(ErrNoResource, name)
	}

	switch res.Location {
	case LinkedFile:
		if a.resolver == nil {
			return nil, errors.Wrapf(ErrUnresolved, "linked file %s", res.Target)
		}
		path, err := a.resolver.ResolveFile(a, res.Target)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read linked file %s", path)
		}
		return data, nil
	case LinkedAssembly:
		if a.resolver == nil {
			return nil, errors.Wrapf(ErrUnresolved, "assembly %s", res.Target)
		}
		other, err := a.resolver.ResolveAssembly(a, res.Target)
		if err != nil {
			return nil, err
		}
		linked, ok := other.Resource(name)
		if !ok || linked.Location != Embedded {
			return nil, errors.Wrapf(ErrUnresolved, "%s does not embed %s", other.Name, name)
		}
		return other.OpenResource(name)
	}

	dir := a.headers.Resources
	if dir.VirtualAddress == 0 {
		return nil, errors.Wrap(ErrNoMetadata, "no resources directory")
	}
	section, err := a.slice(dir.VirtualAddress, dir.Size)
	if err != nil {
		return nil, errors.Wrap(ErrNoMetadata, "resources directory is outside the image")
	}
	if uint64(res.Offset)+4 > uint64(len(section)) {
		return nil, errors.Wrapf(ErrNoMetadata, "resource %s offset out of range", name)
	}
	length := binary.LittleEndian.Uint32(section[res.Offset:])
	start := uint64(res.Offset) + 4
	if start+uint64(length) > uint64(len(section)) {
		return nil, errors.Wrapf(ErrNoMetadata, "resource %s is truncated", name)
	}
	out := make([]byte, length)
	copy(out, section[start:start+uint64(length)])
	return out, nil
}

func (a *Assembly) Close() error {
	var err error
	if a.mapping != nil {
		err = a.mapping.Unmap()
		a.mapping = nil
	}
	if a.file != nil {
		if cerr := a.file.Close(); err == nil {
			err = cerr
		}
		a.file = nil
	}
	a.data = nil
	return err
}

// Describe prints identification details the way the inspect command shows them.
func (a *Assembly) Describe() (string, error) {
	var result string
	result += fmt.Sprintf("[+] Assembly: %s, Version=%s\n", a.Name, a.Version)
	result += fmt.Sprintf("[+] Module: %s\n", a.ModuleName)
	result += fmt.Sprintf("[+] Runtime: %s (CLR header %d.%d)\n", a.RuntimeVersion,
		a.headers.MajorRuntimeVersion, a.headers.MinorRuntimeVersion)
	result += fmt.Sprintf("[+] CPU Arch: %s\n", common.ArchToString(a.Arch))
	if a.CLRFlags&clr32BitPreferred != 0 {
		result += "[+] Prefers 32-bit\n"
	}
	if a.CLRFlags&clrStrongNameSign != 0 {
		result += "[+] Strong-name signed\n"
	}

	signer, err := a.Signer()
	if err != nil {
		result += fmt.Sprintf("[!] Authenticode: %v\n", err)
	} else if signer != "" {
		result += fmt.Sprintf("[+] Authenticode signer: %s\n", signer)
	}

	for _, ref := range a.References {
		result += fmt.Sprintf("[*] Reference: %s %s\n", ref.Name, ref.Version)
	}
	result += fmt.Sprintf("[*] Manifest resources: %d\n", len(a.Resources))
	for _, r := range a.Resources {
		if r.Location == Embedded {
			result += fmt.Sprintf("    %s (%s)\n", r.Name, r.Location)
		} else {
			result += fmt.Sprintf("    %s (%s: %s)\n", r.Name, r.Location, r.Target)
		}
	}
	return result, nil
}
