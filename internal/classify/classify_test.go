package classify

import (
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/resources"
	"resextractor/internal/testutil/fixture"
)

func parse(t *testing.T, r *fixture.Resources) map[string]resources.Entry {
	t.Helper()
	set, err := resources.Parse(r.Bytes())
	require.NoError(t, err)
	entries := make(map[string]resources.Entry)
	for _, e := range set.Entries {
		entries[e.Name] = e
	}
	return entries
}

func TestClassifyText(t *testing.T) {
	c := New(16)

	short := c.Classify(resources.Entry{Name: "Short", Code: resources.TypeString, String: strings.Repeat("a", 15)})
	assert.Equal(t, ShortText, short.Kind)
	assert.Equal(t, strings.Repeat("a", 15), short.Text)
	assert.Empty(t, short.Payloads)

	long := c.Classify(resources.Entry{Name: "Long", Code: resources.TypeString, String: strings.Repeat("a", 16)})
	assert.Equal(t, LongText, long.Kind)

	// eight astral runes are sixteen UTF-16 code units
	astral := c.Classify(resources.Entry{Name: "Astral", Code: resources.TypeString, String: strings.Repeat("😀", 8)})
	assert.Equal(t, LongText, astral.Kind)
	assert.Equal(t, 16, TextLength(strings.Repeat("😀", 8)))
}

func TestNewDefaultsThreshold(t *testing.T) {
	assert.Equal(t, DefaultStringThreshold, New(0).StringThreshold)
	assert.Equal(t, DefaultStringThreshold, New(-5).StringThreshold)
	assert.Equal(t, 10, New(10).StringThreshold)
}

func TestClassifyBuffers(t *testing.T) {
	c := New(0)

	buf := c.Classify(resources.Entry{Name: "Blob", Code: resources.TypeByteArray, Data: []byte{1, 2}})
	assert.Equal(t, ByteBuffer, buf.Kind)
	require.Len(t, buf.Payloads, 1)
	assert.Equal(t, []byte{1, 2}, buf.Payloads[0].Data)
	assert.Empty(t, buf.Payloads[0].Extension)

	stream := c.Classify(resources.Entry{Name: "page.baml", Code: resources.TypeStream, Data: []byte{3}})
	assert.Equal(t, Stream, stream.Kind)
	require.Len(t, stream.Payloads, 1)
}

func TestClassifyImages(t *testing.T) {
	png := fixture.PNG(8, 8, color.NRGBA{G: 0xFF, A: 0xFF})
	icon := fixture.Icon(16)
	cursor := append([]byte{0, 0, 2, 0}, icon[4:]...)

	entries := parse(t, fixture.NewResources().
		AddObject("Logo", fixture.BitmapType, fixture.BitmapObject(png)).
		AddObject("AppIcon", fixture.IconType, fixture.IconObject(icon, 16, 16)).
		AddObject("Pointer", cursorType+", System.Windows.Forms", fixture.ByteArrayObject(cursorType, fixture.FormsAssembly, "CursorData", cursor)).
		AddObject("Font", fixture.DrawingFontType, fixture.StringObject(fixture.DrawingFontType, "Segoe UI")).
		AddInt32("Number", 7).
		AddNull("Nothing"))

	c := New(0)

	logo := c.Classify(entries["Logo"])
	assert.Equal(t, Image, logo.Kind)
	require.Len(t, logo.Payloads, 1)
	assert.Equal(t, png, logo.Payloads[0].Data)
	assert.Equal(t, ".png", logo.Payloads[0].Extension)

	appIcon := c.Classify(entries["AppIcon"])
	assert.Equal(t, Icon, appIcon.Kind)
	require.Len(t, appIcon.Payloads, 1)
	assert.Equal(t, icon, appIcon.Payloads[0].Data)
	assert.Equal(t, ".ico", appIcon.Payloads[0].Extension)

	pointer := c.Classify(entries["Pointer"])
	assert.Equal(t, Image, pointer.Kind)
	require.Len(t, pointer.Payloads, 1)
	assert.Equal(t, ".cur", pointer.Payloads[0].Extension)

	font := c.Classify(entries["Font"])
	assert.Equal(t, Unsupported, font.Kind)
	assert.Equal(t, fixture.DrawingFontType, font.Reason)
	assert.Empty(t, font.Payloads)

	assert.Equal(t, Unsupported, c.Classify(entries["Number"]).Kind)
	assert.Equal(t, "System.Int32", c.Classify(entries["Number"]).Reason)
	assert.Equal(t, Unsupported, c.Classify(entries["Nothing"]).Kind)
}

func TestClassifyBrokenBitmap(t *testing.T) {
	entries := parse(t, fixture.NewResources().
		AddObject("Broken", fixture.BitmapType, []byte{0, 1, 2}))

	res := New(0).Classify(entries["Broken"])
	assert.Equal(t, Unsupported, res.Kind)
	assert.True(t, strings.HasPrefix(res.Reason, fixture.BitmapType+": "))
}

func TestClassifyPreserialized(t *testing.T) {
	png := fixture.PNG(2, 2, color.NRGBA{B: 0xFF, A: 0xFF})
	r := fixture.NewResources().
		AddPreserialized("Raw", fixture.BitmapType, 1, png).
		AddPreserialized("Activator", fixture.IconType, 3, fixture.Icon(32)).
		AddPreserialized("Formatted", fixture.BitmapType, 0, fixture.BitmapObject(png)).
		AddPreserialized("Converted", fixture.BitmapType, 2, []byte("some string"))
	r.ReaderType = fixture.ExtensionsReader
	entries := parse(t, r)

	c := New(0)

	raw := c.Classify(entries["Raw"])
	assert.Equal(t, Image, raw.Kind)
	require.Len(t, raw.Payloads, 1)
	assert.Equal(t, png, raw.Payloads[0].Data)

	activator := c.Classify(entries["Activator"])
	assert.Equal(t, Icon, activator.Kind)

	formatted := c.Classify(entries["Formatted"])
	assert.Equal(t, Image, formatted.Kind)
	require.Len(t, formatted.Payloads, 1)
	assert.Equal(t, png, formatted.Payloads[0].Data)

	converted := c.Classify(entries["Converted"])
	assert.Equal(t, Unsupported, converted.Kind)
	assert.Contains(t, converted.Reason, "type converter string")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "image list", ImageList.String())
	assert.Equal(t, "long text", LongText.String())
	assert.Equal(t, "unsupported", Kind(99).String())
}
