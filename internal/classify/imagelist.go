package classify

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"resextractor/internal/common"
)

// ImageListStreamer data is comctl32's ImageList_Write output, run-length encoded by WinForms.

var imageListMagic = []byte("MSFt")

const (
	ilMagic          = 0x4C49 // IL
	bmpFileHeaderLen = 14
	biRGB            = 0
	biBitfields      = 3
)

type ilHeader struct {
	Magic    uint16
	Version  uint16
	Count    int16
	Alloc    int16
	Grow     int16
	Cx       int16
	Cy       int16
	BkColor  uint32
	Flags    int16
	Overlays [4]int16
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

func decompressImageList(data []byte) []byte {
	if !bytes.HasPrefix(data, imageListMagic) {
		return data
	}
	var out []byte
	for i := len(imageListMagic); i+1 < len(data); i += 2 {
		out = append(out, bytes.Repeat([]byte{data[i+1]}, int(data[i]))...)
	}
	return out
}

// ExpandImageList splits the strip bitmap into one standalone BMP per image.
func ExpandImageList(data []byte) ([]common.Payload, error) {
	raw := decompressImageList(data)
	buf := bytes.NewReader(raw)

	var header ilHeader
	err := binary.Read(buf, binary.LittleEndian, &header)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read image list header")
	}
	if header.Magic != ilMagic {
		return nil, errors.Errorf("bad image list magic 0x%x", header.Magic)
	}
	if header.Count <= 0 || header.Cx <= 0 || header.Cy <= 0 {
		return nil, nil
	}

	bmpStart := int(binary.Size(header))
	bmp := raw[bmpStart:]
	if len(bmp) < bmpFileHeaderLen+40 || string(bmp[:2]) != "BM" {
		return nil, errors.New("image list has no bitmap strip")
	}
	pixelOffset := binary.LittleEndian.Uint32(bmp[10:14])

	var info bitmapInfoHeader
	err = binary.Read(bytes.NewReader(bmp[bmpFileHeaderLen:]), binary.LittleEndian, &info)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read strip bitmap header")
	}
	if info.Size < 40 || info.BitCount == 0 {
		return nil, errors.Errorf("unsupported strip bitmap header (size %d, %d bpp)", info.Size, info.BitCount)
	}
	if info.Compression != biRGB && info.Compression != biBitfields {
		// compressed strips cannot be cut; keep the whole strip
		return []common.Payload{{Data: bmp, Extension: ".bmp"}}, nil
	}

	// header, masks and palette are copied verbatim into every tile
	prefixEnd := bmpFileHeaderLen + int(info.Size)
	if info.Compression == biBitfields && info.Size == 40 {
		prefixEnd += 12
	}
	if info.BitCount <= 8 {
		colors := int(info.ClrUsed)
		if colors == 0 {
			colors = 1 << info.BitCount
		}
		prefixEnd += colors * 4
	}
	if prefixEnd > int(pixelOffset) || int(pixelOffset) > len(bmp) {
		return nil, errors.New("strip bitmap header is inconsistent")
	}

	bpp := int(info.BitCount)
	width := int(info.Width)
	height := int(info.Height)
	bottomUp := height > 0
	if !bottomUp {
		height = -height
	}
	stride := ((width*bpp + 31) / 32) * 4
	pixels := bmp[pixelOffset:]
	if len(pixels) < stride*height {
		return nil, io.ErrUnexpectedEOF
	}

	cx, cy := int(header.Cx), int(header.Cy)
	columns := width / cx
	if columns == 0 {
		return nil, errors.New("image list strip is narrower than one image")
	}
	tileStride := ((cx*bpp + 31) / 32) * 4

	var payloads []common.Payload
	for i := 0; i < int(header.Count); i++ {
		col, row := i%columns, i/columns
		if (row+1)*cy > height {
			break
		}

		var tile bytes.Buffer
		tile.WriteString("BM")
		binary.Write(&tile, binary.LittleEndian, uint32(prefixEnd+tileStride*cy))
		binary.Write(&tile, binary.LittleEndian, uint32(0))
		binary.Write(&tile, binary.LittleEndian, uint32(prefixEnd))

		tileInfo := info
		tileInfo.Width = int32(cx)
		tileInfo.Height = int32(cy)
		if !bottomUp {
			tileInfo.Height = -int32(cy)
		}
		tileInfo.SizeImage = uint32(tileStride * cy)
		binary.Write(&tile, binary.LittleEndian, tileInfo)
		tile.Write(bmp[bmpFileHeaderLen+binary.Size(info) : prefixEnd])

		for y := 0; y < cy; y++ {
			// y counts stored rows of the tile; map to the stored row of the strip
			var srcRow int
			if bottomUp {
				srcRow = height - (row+1)*cy + y
			} else {
				srcRow = row*cy + y
			}
			src := pixels[srcRow*stride : (srcRow+1)*stride]
			dst := make([]byte, tileStride)
			copyBits(dst, src, col*cx*bpp, cx*bpp)
			tile.Write(dst)
		}
		payloads = append(payloads, common.Payload{Data: tile.Bytes(), Extension: ".bmp"})
	}
	return payloads, nil
}

// copyBits copies n bits starting at bit offset from of src into dst starting at bit 0, MSB first.
func copyBits(dst, src []byte, from, n int) {
	if from%8 == 0 && n%8 == 0 {
		copy(dst, src[from/8:(from+n)/8])
		return
	}
	for i := 0; i < n; i++ {
		bit := from + i
		if src[bit/8]&(0x80>>(bit%8)) != 0 {
			dst[i/8] |= 0x80 >> (i % 8)
		}
	}
}
