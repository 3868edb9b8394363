package sniff

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/testutil/fixture"
)

func utf16LE(s string, bom bool) []byte {
	var b bytes.Buffer
	if bom {
		b.Write([]byte{0xFF, 0xFE})
	}
	for _, u := range utf16.Encode([]rune(s)) {
		b.WriteByte(byte(u))
		b.WriteByte(byte(u >> 8))
	}
	return b.Bytes()
}

func baml() []byte {
	var b bytes.Buffer
	b.Write([]byte{12, 0, 0, 0})
	b.Write(utf16LE("MSBAML", false))
	b.Write([]byte{0, 0, 0x60, 0, 0, 0, 0x60, 0})
	return b.Bytes()
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, ".bin"},
		{"png", fixture.PNG(2, 2, color.NRGBA{R: 0xFF, A: 0xFF}), ".png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0x10, 'J', 'F', 'I', 'F'}, ".jpg"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), ".gif"},
		{"bmp", fixture.BMP(2, 2, func(x, y int) [4]byte { return [4]byte{1, 2, 3, 4} }), ".bmp"},
		{"ico", fixture.Icon(16), ".ico"},
		{"cursor", []byte{0, 0, 2, 0, 1, 0, 16, 16}, ".cur"},
		{"webp", []byte("RIFF\x10\x00\x00\x00WEBPVP8 "), ".webp"},
		{"wav", []byte("RIFF\x10\x00\x00\x00WAVEfmt "), ".wav"},
		{"WEBP without RIFF", []byte("XXXX\x10\x00\x00\x00WEBPVP8 "), ".bin"},
		{"pdf", []byte("%PDF-1.7\n"), ".pdf"},
		{"zip", []byte("PK\x03\x04\x14\x00"), ".zip"},
		{"gzip", []byte{0x1F, 0x8B, 8, 0}, ".gz"},
		{"rtf", []byte(`{\rtf1\ansi hello}`), ".rtf"},
		{"dll", fixture.NewAssembly("Lib").Bytes(), ".dll"},
		{"baml", baml(), ".baml"},
		{"xaml", []byte(`<Window xmlns="http://schemas.microsoft.com/winfx/2006/xaml/presentation"></Window>`), ".xaml"},
		{"svg", []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), ".svg"},
		{"xml", []byte("<?xml version=\"1.0\"?>\n<root/>"), ".xml"},
		{"html", []byte("<!DOCTYPE html><html></html>"), ".html"},
		{"json", []byte(`{"key": [1, 2, 3]}`), ".json"},
		{"broken json", []byte(`{"key": `), ".txt"},
		{"utf8 text", []byte("Grüße aus der Ressource\r\n"), ".txt"},
		{"utf16 text", utf16LE("Hello, world", true), ".txt"},
		{"binary", []byte{0x01, 0x02, 0x03, 0xFE, 0x00}, ".bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.data))
		})
	}
}

func TestSniffFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin-0000ABCD")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a long string resource ", 200)), 0o644))

	ext, err := SniffFile(path)
	require.NoError(t, err)
	assert.Equal(t, ".txt", ext)

	_, err = SniffFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSniffReaderLargeJSON(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for b.Len() < 2*sniffLen {
		b.WriteString(`{"name": "entry", "value": "ä"},`)
	}
	b.WriteString("{}]")

	ext, err := SniffReader(strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, ".json", ext)
}
