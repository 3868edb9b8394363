package sniff

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"resextractor/internal/pesniff"
)

// Kind identifies a content type recognized from leading bytes.
type Kind int

const (
	KindUnknown Kind = iota
	KindPNG
	KindJPEG
	KindGIF
	KindBMP
	KindTIFF
	KindICO
	KindCUR
	KindWEBP
	KindWAV
	KindAVI
	KindPDF
	KindZIP
	KindGZIP
	Kind7Z
	KindRAR
	KindEXE
	KindDLL
	KindTTF
	KindOTF
	KindWOFF
	KindWOFF2
	KindMP3
	KindOGG
	KindFLAC
	KindRTF
	KindBAML
	KindXAML
	KindSVG
	KindXML
	KindHTML
	KindJSON
	KindText
)

var extensions = map[Kind]string{
	KindUnknown: ".bin",
	KindPNG:     ".png",
	KindJPEG:    ".jpg",
	KindGIF:     ".gif",
	KindBMP:     ".bmp",
	KindTIFF:    ".tif",
	KindICO:     ".ico",
	KindCUR:     ".cur",
	KindWEBP:    ".webp",
	KindWAV:     ".wav",
	KindAVI:     ".avi",
	KindPDF:     ".pdf",
	KindZIP:     ".zip",
	KindGZIP:    ".gz",
	Kind7Z:      ".7z",
	KindRAR:     ".rar",
	KindEXE:     ".exe",
	KindDLL:     ".dll",
	KindTTF:     ".ttf",
	KindOTF:     ".otf",
	KindWOFF:    ".woff",
	KindWOFF2:   ".woff2",
	KindMP3:     ".mp3",
	KindOGG:     ".ogg",
	KindFLAC:    ".flac",
	KindRTF:     ".rtf",
	KindBAML:    ".baml",
	KindXAML:    ".xaml",
	KindSVG:     ".svg",
	KindXML:     ".xml",
	KindHTML:    ".html",
	KindJSON:    ".json",
	KindText:    ".txt",
}

func (k Kind) Extension() string {
	if ext, ok := extensions[k]; ok {
		return ext
	}
	return ".bin"
}

func (k Kind) String() string {
	return strings.TrimPrefix(k.Extension(), ".")
}

// sniffLen is how much of a file SniffFile looks at.
const sniffLen = 64 * 1024

type signature struct {
	offset int
	magic  []byte
	kind   Kind
}

var signatures = []signature{
	{0, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, KindPNG},
	{0, []byte{0xFF, 0xD8, 0xFF}, KindJPEG},
	{0, []byte("GIF87a"), KindGIF},
	{0, []byte("GIF89a"), KindGIF},
	{0, []byte("II*\x00"), KindTIFF},
	{0, []byte("MM\x00*"), KindTIFF},
	{0, []byte{0, 0, 1, 0}, KindICO},
	{0, []byte{0, 0, 2, 0}, KindCUR},
	{0, []byte("%PDF-"), KindPDF},
	{0, []byte("PK\x03\x04"), KindZIP},
	{0, []byte("PK\x05\x06"), KindZIP},
	{0, []byte{0x1F, 0x8B}, KindGZIP},
	{0, []byte("7z\xBC\xAF\x27\x1C"), Kind7Z},
	{0, []byte("Rar!\x1A\x07"), KindRAR},
	{0, []byte{0, 1, 0, 0, 0}, KindTTF},
	{0, []byte("OTTO"), KindOTF},
	{0, []byte("wOFF"), KindWOFF},
	{0, []byte("wOF2"), KindWOFF2},
	{0, []byte("ID3"), KindMP3},
	{0, []byte("OggS"), KindOGG},
	{0, []byte("fLaC"), KindFLAC},
	{0, []byte(`{\rtf`), KindRTF},
	{8, []byte("WEBP"), KindWEBP},
	{8, []byte("WAVE"), KindWAV},
	{8, []byte("AVI "), KindAVI},
}

// bamlFeature is "MSBAML" in UTF-16LE, preceded in the file by its byte length.
var bamlFeature = []byte{'M', 0, 'S', 0, 'B', 0, 'A', 0, 'M', 0, 'L', 0}

// Detect classifies data by its leading bytes, falling back to text heuristics.
func Detect(data []byte) Kind {
	if len(data) == 0 {
		return KindUnknown
	}
	for _, sig := range signatures {
		if len(data) >= sig.offset+len(sig.magic) && bytes.Equal(data[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			if sig.offset == 8 && !bytes.HasPrefix(data, []byte("RIFF")) {
				continue
			}
			return sig.kind
		}
	}
	if len(data) >= 16 && binary.LittleEndian.Uint32(data) == uint32(len(bamlFeature)) && bytes.Equal(data[4:16], bamlFeature) {
		return KindBAML
	}
	if isBMP(data) {
		return KindBMP
	}
	if bytes.HasPrefix(data, []byte("MZ")) {
		headers, err := pesniff.ReadHeaders(bytes.NewReader(data), int64(len(data)))
		if err == nil {
			if headers.IsDLL() {
				return KindDLL
			}
			return KindEXE
		}
	}
	return detectText(data)
}

// Extension is Detect followed by the kind's extension; unknown content is ".bin".
func Extension(data []byte) string {
	return Detect(data).Extension()
}

func isBMP(data []byte) bool {
	if len(data) < 26 || !bytes.HasPrefix(data, []byte("BM")) {
		return false
	}
	size := binary.LittleEndian.Uint32(data[2:6])
	reserved := binary.LittleEndian.Uint32(data[6:10])
	header := binary.LittleEndian.Uint32(data[14:18])
	return reserved == 0 && (size == uint32(len(data)) || header == 12 || header == 40 || header == 108 || header == 124)
}

func detectText(data []byte) Kind {
	text, ok := decodeText(data)
	if !ok {
		return KindUnknown
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return KindText
	}
	lower := strings.ToLower(trimmed[:min(len(trimmed), 512)])

	switch {
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"):
		return KindHTML
	case strings.HasPrefix(trimmed, "<"):
		if strings.Contains(trimmed, "schemas.microsoft.com/winfx/2006/xaml") {
			return KindXAML
		}
		if strings.Contains(lower, "<svg") {
			return KindSVG
		}
		if strings.HasPrefix(trimmed, "<?xml") || strings.HasSuffix(trimmed, ">") {
			return KindXML
		}
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		if json.Valid([]byte(trimmed)) {
			return KindJSON
		}
	}
	return KindText
}

// decodeText accepts UTF-8 (with or without BOM) and BOM-marked UTF-16 without stray control bytes.
func decodeText(data []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		data = data[3:]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		order := binary.ByteOrder(binary.LittleEndian)
		if data[0] == 0xFE {
			order = binary.BigEndian
		}
		var units []uint16
		for i := 2; i+1 < len(data); i += 2 {
			units = append(units, order.Uint16(data[i:]))
		}
		return printable(string(utf16.Decode(units)))
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return printable(string(data))
}

func printable(s string) (string, bool) {
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' && r != '\f' {
			return "", false
		}
		if r == utf8.RuneError {
			return "", false
		}
	}
	return s, true
}

// SniffFile reads the head of a file to determine its extension.
func SniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return SniffReader(f)
}

func SniffReader(r io.Reader) (string, error) {
	head, err := io.ReadAll(io.LimitReader(r, sniffLen))
	if err != nil {
		return "", err
	}
	if len(head) == sniffLen {
		// a cut may land inside a multi-byte sequence or a JSON document
		return extensionOfPrefix(head), nil
	}
	return Extension(head), nil
}

func extensionOfPrefix(head []byte) string {
	for i := 0; i < utf8.UTFMax && len(head) > 0; i++ {
		if utf8.Valid(head) {
			break
		}
		head = head[:len(head)-1]
	}
	kind := Detect(head)
	if kind == KindText && len(bytes.TrimSpace(head)) > 0 {
		trimmed := bytes.TrimSpace(head)
		if trimmed[0] == '{' || trimmed[0] == '[' {
			return KindJSON.Extension()
		}
	}
	return kind.Extension()
}
