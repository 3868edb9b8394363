package extract

import (
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/classify"
	"resextractor/internal/common"
	"resextractor/internal/dedup"
	"resextractor/internal/interlock"
	"resextractor/internal/naming"
	"resextractor/internal/testutil/fixture"
	"resextractor/pkg/sniff"
)

func newWriter(folder string) *Writer {
	locks := interlock.NewRecorder()
	alloc := naming.NewAllocator(locks, nil)
	return NewWriter(folder, alloc, dedup.New(locks, alloc, sniff.SniffFile, nil), nil)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestShortName(t *testing.T) {
	assert.Equal(t, "Form1.resources", ShortName("WindowsApp.Form1.resources", "WindowsApp", true))
	assert.Equal(t, "WindowsApp.Form1.resources", ShortName("WindowsApp.Form1.resources", "WindowsApp", false))
	assert.Equal(t, "Other.logo.png", ShortName("Other.logo.png", "WindowsApp", true))
	assert.Equal(t, "Form-1.resources", ShortName("App.Form:1.resources", "App", true))
}

func TestSetPrefix(t *testing.T) {
	assert.Equal(t, "Form1.", SetPrefix("Form1.resources"))
	assert.Equal(t, "Strings.en.", SetPrefix("Strings.en.resources"))
	assert.Equal(t, "", SetPrefix("x"))
	assert.True(t, IsResourceSet("App.Form1.resources"))
	assert.False(t, IsResourceSet("App.logo.png"))
}

func sampleEntries(t *testing.T) []classify.Resource {
	t.Helper()
	tiles, err := classify.ExpandImageList(fixture.ImageListData(2, 8, 8))
	require.NoError(t, err)

	return []classify.Resource{
		{Key: "Greeting", Kind: classify.ShortText, Text: "Hello & welcome"},
		{Key: "greeting", Kind: classify.ShortText, Text: "hi"},
		{Key: "About", Kind: classify.LongText, Text: strings.Repeat("lorem ipsum dolor ", 80)},
		{Key: "Logo", Kind: classify.Image, Payloads: []common.Payload{
			{Data: fixture.PNG(4, 4, color.NRGBA{R: 0xFF, A: 0xFF}), Extension: ".png"},
		}},
		{Key: "imageList1.ImageStream", Kind: classify.ImageList, Payloads: tiles},
		{Key: "page.baml", Kind: classify.Stream, Payloads: []common.Payload{{Data: []byte("baml body")}}},
		{Key: "Blob", Kind: classify.ByteBuffer, Payloads: []common.Payload{{Data: []byte{1, 2, 3, 0xFE, 0}}}},
		{Key: "Font", Kind: classify.Unsupported, Reason: fixture.DrawingFontType},
	}
}

func TestWriteSet(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "WindowsApp")
	w := newWriter(folder)

	require.NoError(t, w.WriteSet("WindowsApp.Form1.resources", "Form1.resources", sampleEntries(t)))

	assert.Equal(t, []string{
		"Form1.About.txt",
		"Form1.Blob.bin",
		"Form1.Logo.png",
		"Form1.imageList1.ImageStream[0].bmp",
		"Form1.imageList1.ImageStream[1].bmp",
		"Form1.page.baml",
		"Form1.resx",
	}, listDir(t, folder))
	assert.Equal(t, 7, w.Written)
	assert.Equal(t, 0, w.Duplicates)
	assert.Equal(t, 1, w.Unhandled)
	assert.Equal(t, 0, w.Failed)
	assert.Len(t, w.Files, 7)

	resx, err := os.ReadFile(filepath.Join(folder, "Form1.resx"))
	require.NoError(t, err)
	assert.Contains(t, string(resx), "<data name=\"Greeting\" xml:space=\"preserve\">\r\n    <value>Hello &amp; welcome</value>")
	assert.Contains(t, string(resx), "<data name=\"Greeting(1)\" xml:space=\"preserve\">\r\n    <value>hi</value>")

	about, err := os.ReadFile(filepath.Join(folder, "Form1.About.txt"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("lorem ipsum dolor ", 80), string(about))
}

func TestWriteSetTwiceAddsNothing(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "WindowsApp")
	require.NoError(t, newWriter(folder).WriteSet("WindowsApp.Form1.resources", "Form1.resources", sampleEntries(t)))
	before := listDir(t, folder)

	again := newWriter(folder)
	require.NoError(t, again.WriteSet("WindowsApp.Form1.resources", "Form1.resources", sampleEntries(t)))
	assert.Equal(t, before, listDir(t, folder))
	assert.Equal(t, 0, again.Written)
	assert.Equal(t, 7, again.Duplicates)
	assert.Empty(t, again.Files)
}

func TestWriteSetWithoutStrings(t *testing.T) {
	folder := t.TempDir()
	w := newWriter(folder)
	require.NoError(t, w.WriteSet("App.Images.resources", "Images.resources", []classify.Resource{
		{Key: "Logo", Kind: classify.Image, Payloads: []common.Payload{{Data: []byte("GIF89a..."), Extension: ".gif"}}},
	}))
	assert.Equal(t, []string{"Images.Logo.gif"}, listDir(t, folder))
}

func TestWriteSetKeepsResxInsideFolder(t *testing.T) {
	root := t.TempDir()
	folder := filepath.Join(root, "out")
	w := newWriter(folder)

	require.NoError(t, w.WriteSet("../../x.resources", "resources", []classify.Resource{
		{Key: "..", Kind: classify.ShortText, Text: "hi"},
		{Key: "..", Kind: classify.Stream, Payloads: []common.Payload{{Data: []byte("GIF89a...")}}},
	}))
	assert.Equal(t, []string{"out"}, listDir(t, root))
	assert.Equal(t, []string{"-.gif", "..-..-x.resx"}, listDir(t, folder))
}

func TestWriteBlob(t *testing.T) {
	folder := t.TempDir()
	w := newWriter(folder)

	require.NoError(t, w.WriteBlob("logo.png", []byte("png")))
	require.NoError(t, w.WriteBlob("logo.png", []byte("PNG")))
	require.NoError(t, w.WriteBlob("logo.png", []byte("longer png")))

	assert.Equal(t, []string{"logo(01).png", "logo.png"}, listDir(t, folder))
	assert.Equal(t, 2, w.Written)
	assert.Equal(t, 1, w.Duplicates)
}

func TestWriteFailuresAreCounted(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// the folder cannot be created below a regular file
	w := newWriter(filepath.Join(blocker, "out"))
	assert.Error(t, w.WriteBlob("logo.png", []byte("png")))
	assert.Equal(t, 1, w.Failed)

	err := w.WriteSet("App.Form1.resources", "Form1.resources", sampleEntries(t))
	assert.Error(t, err)
	// five file entries plus the string document
	assert.Equal(t, 1+6, w.Failed)
	assert.Equal(t, 1, w.Unhandled)
	assert.Zero(t, w.Written)
}
