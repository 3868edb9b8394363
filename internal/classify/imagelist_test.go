package classify

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resextractor/internal/testutil/fixture"
)

func TestExpandImageList(t *testing.T) {
	const count, cx, cy = 6, 16, 16

	payloads, err := ExpandImageList(fixture.ImageListData(count, cx, cy))
	require.NoError(t, err)
	require.Len(t, payloads, count)

	for i, p := range payloads {
		assert.Equal(t, ".bmp", p.Extension)
		require.Len(t, p.Data, 54+cx*cy*4)
		assert.Equal(t, "BM", string(p.Data[:2]))
		assert.Equal(t, uint32(len(p.Data)), binary.LittleEndian.Uint32(p.Data[2:6]))
		assert.Equal(t, int32(cx), int32(binary.LittleEndian.Uint32(p.Data[18:22])))
		assert.Equal(t, int32(cy), int32(binary.LittleEndian.Uint32(p.Data[22:26])))

		want := fixture.TileColor(i)
		pixels := p.Data[54:]
		for off := 0; off < len(pixels); off += 4 {
			if !bytes.Equal(want[:], pixels[off:off+4]) {
				t.Fatalf("tile %d: pixel %d is %x, want %x", i, off/4, pixels[off:off+4], want)
			}
		}
	}
}

func TestClassifyImageList(t *testing.T) {
	entries := parse(t, fixture.NewResources().
		AddObject("imageList1.ImageStream", fixture.ImageListType, fixture.ImageListObject(fixture.ImageListData(3, 8, 8))))

	res := New(0).Classify(entries["imageList1.ImageStream"])
	assert.Equal(t, ImageList, res.Kind)
	assert.Len(t, res.Payloads, 3)
}

func TestExpandImageListEmpty(t *testing.T) {
	payloads, err := ExpandImageList(fixture.ImageListData(0, 16, 16))
	require.NoError(t, err)
	assert.Empty(t, payloads)

	res := New(0).Classify(parse(t, fixture.NewResources().
		AddObject("empty", fixture.ImageListType, fixture.ImageListObject(fixture.ImageListData(0, 16, 16))))["empty"])
	assert.Equal(t, Unsupported, res.Kind)
}

func TestExpandImageListMalformed(t *testing.T) {
	_, err := ExpandImageList([]byte("MSFt\x01\x00"))
	assert.Error(t, err)

	_, err = ExpandImageList([]byte("not an image list at all, just bytes"))
	assert.Error(t, err)
}
