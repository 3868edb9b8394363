package pesniff

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// https://learn.microsoft.com/en-us/windows/win32/debug/pe-format
const (
	dosMagic          = 0x5A4D // MZ
	ntSignature       = 0x00004550
	lfanewOffset      = 0x3C
	fileHeaderSize    = 20
	optionalMagicPE32 = 0x10B
	optionalMagicPE64 = 0x20B

	// NumberOfRvaAndSizes, relative to the start of the optional header
	pe32DirCountOffset = 92
	pe64DirCountOffset = 108

	CharacteristicExecutable = 0x0002
	CharacteristicDLL        = 0x2000

	DirectorySecurity = 4
	DirectoryCLR      = 14
)

var ErrNotPE = errors.New("not a PE image")

type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

type Headers struct {
	Machine         uint16
	Characteristics uint16
	OptionalMagic   uint16
	Directories     []DataDirectory
}

func (h *Headers) IsDLL() bool {
	return h.Characteristics&CharacteristicDLL != 0
}

func (h *Headers) Is64() bool {
	return h.OptionalMagic == optionalMagicPE64
}

// Managed reports whether the CLR runtime header directory is populated.
func (h *Headers) Managed() bool {
	return len(h.Directories) > DirectoryCLR && h.Directories[DirectoryCLR].VirtualAddress != 0
}

// ReadHeaders walks the DOS stub, NT signature, file header and optional header up to the
// data-directory table. Any truncation or bad magic is reported as ErrNotPE.
func ReadHeaders(r io.ReaderAt, size int64) (*Headers, error) {
	var err error
	var headers Headers

	if size < lfanewOffset+4 {
		return nil, ErrNotPE
	}
	sr := io.NewSectionReader(r, 0, size)

	var magic uint16
	if err = binary.Read(sr, binary.LittleEndian, &magic); err != nil || magic != dosMagic {
		return nil, ErrNotPE
	}

	sr.Seek(lfanewOffset, io.SeekStart)
	var lfanew uint32
	if err = binary.Read(sr, binary.LittleEndian, &lfanew); err != nil {
		return nil, ErrNotPE
	}
	if int64(lfanew)+4+fileHeaderSize+2 > size {
		return nil, ErrNotPE
	}

	sr.Seek(int64(lfanew), io.SeekStart)
	var signature uint32
	if err = binary.Read(sr, binary.LittleEndian, &signature); err != nil || signature != ntSignature {
		return nil, ErrNotPE
	}

	var fileHeader struct {
		Machine              uint16
		NumberOfSections     uint16
		TimeDateStamp        uint32
		PointerToSymbolTable uint32
		NumberOfSymbols      uint32
		SizeOfOptionalHeader uint16
		Characteristics      uint16
	}
	if err = binary.Read(sr, binary.LittleEndian, &fileHeader); err != nil {
		return nil, ErrNotPE
	}
	headers.Machine = fileHeader.Machine
	headers.Characteristics = fileHeader.Characteristics

	if err = binary.Read(sr, binary.LittleEndian, &headers.OptionalMagic); err != nil {
		return nil, ErrNotPE
	}
	switch headers.OptionalMagic {
	case optionalMagicPE32:
		sr.Seek(pe32DirCountOffset-2, io.SeekCurrent)
	case optionalMagicPE64:
		sr.Seek(pe64DirCountOffset-2, io.SeekCurrent)
	default:
		return nil, ErrNotPE
	}

	var count uint32
	if err = binary.Read(sr, binary.LittleEndian, &count); err != nil {
		return nil, ErrNotPE
	}
	if count > 16 {
		return nil, ErrNotPE
	}
	headers.Directories = make([]DataDirectory, count)
	if err = binary.Read(sr, binary.LittleEndian, &headers.Directories); err != nil {
		return nil, ErrNotPE
	}
	return &headers, nil
}

// IsAssemblyReader never fails: anything that is not a well-formed managed image is simply false.
func IsAssemblyReader(r io.ReaderAt, size int64) bool {
	headers, err := ReadHeaders(r, size)
	if err != nil {
		return false
	}
	if headers.Characteristics&CharacteristicExecutable == 0 {
		return false
	}
	return headers.Managed()
}

func IsAssembly(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return IsAssemblyReader(f, info.Size())
}

func IsAssemblyBytes(data []byte) bool {
	return IsAssemblyReader(bytes.NewReader(data), int64(len(data)))
}
