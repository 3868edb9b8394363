package classify

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/testutil/fixture"
	"resextractor/pkg/sniff"
)

func TestDetectFormatJPEG(t *testing.T) {
	jfif := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 16, 'J', 'F', 'I', 'F', 0}
	tests := []struct {
		name string
		data []byte
	}{
		{"jfif", jfif},
		{"exif", fixture.ExifJPEG()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, FormatJPEG, DetectFormat(tt.data))
			assert.Equal(t, ".jpg", ImageExtension(DetectFormat(tt.data)))
		})
	}
}

func TestClassifyExifJPEG(t *testing.T) {
	photo := fixture.ExifJPEG()
	entries := parse(t, fixture.NewResources().
		AddObject("Photo", fixture.BitmapType, fixture.BitmapObject(photo)))

	res := New(0).Classify(entries["Photo"])
	assert.Equal(t, Image, res.Kind)
	require.Len(t, res.Payloads, 1)
	assert.Equal(t, ".jpg", res.Payloads[0].Extension)
	// the stream path sniffs the same bytes
	assert.Equal(t, sniff.Extension(photo), res.Payloads[0].Extension)
}

func TestAnalyzeExif(t *testing.T) {
	info, ok := AnalyzeExif(fixture.ExifJPEG())
	require.True(t, ok)
	assert.Contains(t, info.Model, "TestCam")
	assert.Contains(t, info.Timestamp, "2024:01:02")
	assert.False(t, info.GPS)
	assert.GreaterOrEqual(t, info.Tags, 2)

	_, ok = AnalyzeExif(fixture.PNG(2, 2, color.NRGBA{A: 0xFF}))
	assert.False(t, ok)
	_, ok = AnalyzeExif(nil)
	assert.False(t, ok)
}
