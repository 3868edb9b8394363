package classify

import (
	"bytes"

	"github.com/google/uuid"
)

// GDI+ raw image format identifiers (System.Drawing.Imaging.ImageFormat).
var (
	FormatUndefined = uuid.MustParse("b96b3ca9-0728-11d3-9d7b-0000f81ef32e")
	FormatMemoryBMP = uuid.MustParse("b96b3caa-0728-11d3-9d7b-0000f81ef32e")
	FormatBMP       = uuid.MustParse("b96b3cab-0728-11d3-9d7b-0000f81ef32e")
	FormatEMF       = uuid.MustParse("b96b3cac-0728-11d3-9d7b-0000f81ef32e")
	FormatWMF       = uuid.MustParse("b96b3cad-0728-11d3-9d7b-0000f81ef32e")
	FormatJPEG      = uuid.MustParse("b96b3cae-0728-11d3-9d7b-0000f81ef32e")
	FormatPNG       = uuid.MustParse("b96b3caf-0728-11d3-9d7b-0000f81ef32e")
	FormatGIF       = uuid.MustParse("b96b3cb0-0728-11d3-9d7b-0000f81ef32e")
	FormatTIFF      = uuid.MustParse("b96b3cb1-0728-11d3-9d7b-0000f81ef32e")
	FormatEXIF      = uuid.MustParse("b96b3cb2-0728-11d3-9d7b-0000f81ef32e")
	FormatIcon      = uuid.MustParse("b96b3cb5-0728-11d3-9d7b-0000f81ef32e")
	FormatHEIF      = uuid.MustParse("b96b3cb6-0728-11d3-9d7b-0000f81ef32e")
	FormatWEBP      = uuid.MustParse("b96b3cb7-0728-11d3-9d7b-0000f81ef32e")
)

const unknownImageExtension = ".img"

var imageExtensions = map[uuid.UUID]string{
	FormatUndefined: ".undef",
	FormatMemoryBMP: ".bmp",
	FormatBMP:       ".bmp",
	FormatEMF:       ".emf",
	FormatWMF:       ".wmf",
	FormatJPEG:      ".jpg",
	FormatPNG:       ".png",
	FormatGIF:       ".gif",
	FormatTIFF:      ".tif",
	FormatEXIF:      ".exif",
	FormatIcon:      ".ico",
	FormatHEIF:      ".heif",
	FormatWEBP:      ".webp",
}

// ImageExtension maps a raw format identifier to a file extension.
func ImageExtension(format uuid.UUID) string {
	if ext, ok := imageExtensions[format]; ok {
		return ext
	}
	return unknownImageExtension
}

// DetectFormat identifies the raw format of an encoded image. Unrecognized data yields uuid.Nil.
func DetectFormat(data []byte) uuid.UUID {
	switch {
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		// Exif APP1 JPEGs included: their raw format is JPEG.
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case bytes.HasPrefix(data, []byte{0, 0, 1, 0}):
		return FormatIcon
	case len(data) >= 44 && bytes.HasPrefix(data, []byte{1, 0, 0, 0}) && string(data[40:44]) == " EMF":
		return FormatEMF
	case bytes.HasPrefix(data, []byte{0xD7, 0xCD, 0xC6, 0x9A}), bytes.HasPrefix(data, []byte{1, 0, 9, 0}):
		return FormatWMF
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWEBP
	case len(data) >= 12 && string(data[4:8]) == "ftyp":
		switch string(data[8:12]) {
		case "heic", "heix", "hevc", "mif1", "msf1":
			return FormatHEIF
		}
	}
	return uuid.Nil
}

// IsCursor matches the .cur variant of the icon container.
func IsCursor(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0, 0, 2, 0})
}
