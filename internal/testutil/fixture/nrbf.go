package fixture

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
)

const (
	BitmapType      = "System.Drawing.Bitmap"
	IconType        = "System.Drawing.Icon"
	ImageListType   = "System.Windows.Forms.ImageListStreamer"
	DrawingFontType = "System.Drawing.Font"
)

func nrbfHeader(b *bytes.Buffer) {
	b.WriteByte(0)
	binary.Write(b, binary.LittleEndian, []int32{1, -1, 1, 0})
}

func nrbfLibrary(b *bytes.Buffer, id int32, name string) {
	b.WriteByte(12)
	binary.Write(b, binary.LittleEndian, id)
	writeString(b, name)
}

func nrbfByteArray(b *bytes.Buffer, id int32, data []byte) {
	b.WriteByte(15)
	binary.Write(b, binary.LittleEndian, id)
	binary.Write(b, binary.LittleEndian, int32(len(data)))
	b.WriteByte(2)
	b.Write(data)
}

// ByteArrayObject serializes a class with a single byte[] member, the shape Bitmap and
// ImageListStreamer use for their ISerializable payload.
func ByteArrayObject(typeName, library, member string, data []byte) []byte {
	var b bytes.Buffer
	nrbfHeader(&b)
	nrbfLibrary(&b, 2, library)

	b.WriteByte(5)
	binary.Write(&b, binary.LittleEndian, int32(1))
	writeString(&b, typeName)
	binary.Write(&b, binary.LittleEndian, int32(1))
	writeString(&b, member)
	b.WriteByte(7) // PrimitiveArray
	b.WriteByte(2) // Byte
	binary.Write(&b, binary.LittleEndian, int32(2))

	b.WriteByte(9)
	binary.Write(&b, binary.LittleEndian, int32(3))
	nrbfByteArray(&b, 3, data)
	b.WriteByte(11)
	return b.Bytes()
}

func BitmapObject(data []byte) []byte {
	return ByteArrayObject(BitmapType, DrawingAssembly, "Data", data)
}

func ImageListObject(data []byte) []byte {
	return ByteArrayObject(ImageListType, FormsAssembly, "Data", data)
}

// IconObject carries IconData plus a nested IconSize struct record, as Icon serializes itself.
func IconObject(data []byte, width, height int32) []byte {
	var b bytes.Buffer
	nrbfHeader(&b)
	nrbfLibrary(&b, 2, DrawingAssembly)

	b.WriteByte(5)
	binary.Write(&b, binary.LittleEndian, int32(1))
	writeString(&b, IconType)
	binary.Write(&b, binary.LittleEndian, int32(2))
	writeString(&b, "IconData")
	writeString(&b, "IconSize")
	b.WriteByte(7) // PrimitiveArray
	b.WriteByte(4) // Class
	b.WriteByte(2) // Byte
	writeString(&b, "System.Drawing.Size")
	binary.Write(&b, binary.LittleEndian, int32(2))
	binary.Write(&b, binary.LittleEndian, int32(2))

	b.WriteByte(9)
	binary.Write(&b, binary.LittleEndian, int32(3))

	b.WriteByte(5)
	binary.Write(&b, binary.LittleEndian, int32(4))
	writeString(&b, "System.Drawing.Size")
	binary.Write(&b, binary.LittleEndian, int32(2))
	writeString(&b, "width")
	writeString(&b, "height")
	b.WriteByte(0)
	b.WriteByte(0)
	b.WriteByte(8) // Int32
	b.WriteByte(8)
	binary.Write(&b, binary.LittleEndian, int32(2))
	binary.Write(&b, binary.LittleEndian, width)
	binary.Write(&b, binary.LittleEndian, height)

	nrbfByteArray(&b, 3, data)
	b.WriteByte(11)
	return b.Bytes()
}

// StringObject is a serialized type this tool does not decode (a font description).
func StringObject(typeName, value string) []byte {
	var b bytes.Buffer
	nrbfHeader(&b)
	nrbfLibrary(&b, 2, DrawingAssembly)
	b.WriteByte(5)
	binary.Write(&b, binary.LittleEndian, int32(1))
	writeString(&b, typeName)
	binary.Write(&b, binary.LittleEndian, int32(1))
	writeString(&b, "Name")
	b.WriteByte(1) // String
	binary.Write(&b, binary.LittleEndian, int32(2))
	b.WriteByte(6)
	binary.Write(&b, binary.LittleEndian, int32(3))
	writeString(&b, value)
	b.WriteByte(11)
	return b.Bytes()
}

// PNG renders a solid w*h image.
func PNG(w, h int, c color.NRGBA) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var b bytes.Buffer
	png.Encode(&b, img)
	return b.Bytes()
}

// Icon returns a single-entry .ico wrapping a PNG image.
func Icon(size int) []byte {
	body := PNG(size, size, color.NRGBA{R: 0x20, G: 0x40, B: 0x80, A: 0xFF})
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, []uint16{0, 1, 1})
	b.WriteByte(byte(size))
	b.WriteByte(byte(size))
	b.WriteByte(0)
	b.WriteByte(0)
	binary.Write(&b, binary.LittleEndian, []uint16{1, 32})
	binary.Write(&b, binary.LittleEndian, []uint32{uint32(len(body)), 22})
	b.Write(body)
	return b.Bytes()
}

// BMP renders a 32bpp bottom-up bitmap.
func BMP(w, h int, pixel func(x, y int) [4]byte) []byte {
	stride := w * 4
	var b bytes.Buffer
	b.WriteString("BM")
	binary.Write(&b, binary.LittleEndian, uint32(54+stride*h))
	binary.Write(&b, binary.LittleEndian, uint32(0))
	binary.Write(&b, binary.LittleEndian, uint32(54))
	binary.Write(&b, binary.LittleEndian, uint32(40))
	binary.Write(&b, binary.LittleEndian, int32(w))
	binary.Write(&b, binary.LittleEndian, int32(h))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(32))
	binary.Write(&b, binary.LittleEndian, []uint32{0, uint32(stride * h), 0, 0, 0, 0})
	for row := h - 1; row >= 0; row-- {
		for x := 0; x < w; x++ {
			px := pixel(x, row)
			b.Write(px[:])
		}
	}
	return b.Bytes()
}

// TileColor is the BGRA value ImageListData paints into tile i.
func TileColor(i int) [4]byte {
	return [4]byte{byte(0x10 + i), byte(0x80 + i), 0xF0, 0xFF}
}

// ImageListData builds an MSFt-compressed image list of count cx*cy tiles laid out four per row.
func ImageListData(count, cx, cy int) []byte {
	var raw bytes.Buffer
	binary.Write(&raw, binary.LittleEndian, uint16(0x4C49))
	binary.Write(&raw, binary.LittleEndian, uint16(0x101))
	binary.Write(&raw, binary.LittleEndian, []int16{int16(count), int16(count), 4, int16(cx), int16(cy)})
	binary.Write(&raw, binary.LittleEndian, uint32(0xFFFFFFFF))
	binary.Write(&raw, binary.LittleEndian, int16(0x20))
	binary.Write(&raw, binary.LittleEndian, []int16{-1, -1, -1, -1})

	rows := (count + 3) / 4
	raw.Write(BMP(cx*4, cy*rows, func(x, y int) [4]byte {
		i := (y/cy)*4 + x/cx
		if i >= count {
			return [4]byte{}
		}
		return TileColor(i)
	}))

	data := raw.Bytes()
	var out bytes.Buffer
	out.WriteString("MSFt")
	for i := 0; i < len(data); {
		run := 1
		for i+run < len(data) && run < 255 && data[i+run] == data[i] {
			run++
		}
		out.WriteByte(byte(run))
		out.WriteByte(data[i])
		i += run
	}
	return out.Bytes()
}
