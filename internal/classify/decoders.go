package classify

import (
	"strings"

	"github.com/pkg/errors"

	"resextractor/internal/common"
	"resextractor/internal/resources"
)

const (
	bitmapType    = "System.Drawing.Bitmap"
	metafileType  = "System.Drawing.Imaging.Metafile"
	iconType      = "System.Drawing.Icon"
	cursorType    = "System.Windows.Forms.Cursor"
	imageListType = "System.Windows.Forms.ImageListStreamer"
)

var decoderFactories = [...]common.DecoderFactory{
	&ImageFactory{},
	&IconFactory{},
	&ImageListFactory{},
}

// FindDecoder returns the first decoder that accepts the type, or an error when none does.
func FindDecoder(typeName string, payload []byte) (common.Decoder, error) {
	var decoders []common.Decoder
	for _, factory := range decoderFactories {
		decoders = append(decoders, factory.Build(typeName, payload))
	}

	for _, decoder := range decoders {
		if decoder.CanDecode() {
			return decoder, nil
		}
	}
	return nil, errors.Errorf("no decoder for %s", typeName)
}

// isType matches a bare or assembly-qualified type name.
func isType(typeName, want string) bool {
	return typeName == want || strings.HasPrefix(typeName, want+",")
}

// payload carries either a BinaryFormatter stream or, for pre-serialized resources, the member
// bytes themselves.
type payload struct {
	typeName string
	data     []byte
	raw      bool
}

func (p payload) member(name string) ([]byte, error) {
	if p.raw {
		return p.data, nil
	}
	graph, err := resources.DecodeGraph(p.data)
	if err != nil {
		return nil, err
	}
	root, ok := graph.RootObject()
	if !ok {
		return nil, errors.New("serialized stream has no root object")
	}
	data, ok := graph.Bytes(root, name)
	if !ok {
		return nil, errors.Errorf("%s has no %s member", root.Class, name)
	}
	return data, nil
}

type ImageFactory struct{}

func (f *ImageFactory) Build(typeName string, data []byte) common.Decoder {
	return &ImageDecoder{payload{typeName: typeName, data: data}}
}

// ImageDecoder handles Bitmap and Metafile ("Data") and Cursor ("CursorData").
type ImageDecoder struct {
	payload
}

func (d *ImageDecoder) Name() string {
	return "Image"
}

func (d *ImageDecoder) CanDecode() bool {
	return isType(d.typeName, bitmapType) || isType(d.typeName, metafileType) || isType(d.typeName, cursorType)
}

func (d *ImageDecoder) Decode() ([]common.Payload, error) {
	member := "Data"
	if isType(d.typeName, cursorType) {
		member = "CursorData"
	}
	data, err := d.member(member)
	if err != nil {
		return nil, err
	}
	return []common.Payload{imagePayload(data)}, nil
}

func imagePayload(data []byte) common.Payload {
	if IsCursor(data) {
		return common.Payload{Data: data, Extension: ".cur"}
	}
	return common.Payload{Data: data, Extension: ImageExtension(DetectFormat(data))}
}

type IconFactory struct{}

func (f *IconFactory) Build(typeName string, data []byte) common.Decoder {
	return &IconDecoder{payload{typeName: typeName, data: data}}
}

type IconDecoder struct {
	payload
}

func (d *IconDecoder) Name() string {
	return "Icon"
}

func (d *IconDecoder) CanDecode() bool {
	return isType(d.typeName, iconType)
}

func (d *IconDecoder) Decode() ([]common.Payload, error) {
	data, err := d.member("IconData")
	if err != nil {
		return nil, err
	}
	return []common.Payload{{Data: data, Extension: ImageExtension(FormatIcon)}}, nil
}

type ImageListFactory struct{}

func (f *ImageListFactory) Build(typeName string, data []byte) common.Decoder {
	return &ImageListDecoder{payload{typeName: typeName, data: data}}
}

type ImageListDecoder struct {
	payload
}

func (d *ImageListDecoder) Name() string {
	return "ImageList"
}

func (d *ImageListDecoder) CanDecode() bool {
	return isType(d.typeName, imageListType)
}

func (d *ImageListDecoder) Decode() ([]common.Payload, error) {
	data, err := d.member("Data")
	if err != nil {
		return nil, err
	}
	return ExpandImageList(data)
}

// rawDecoder marks a found decoder's payload as already-extracted member bytes.
func rawDecoder(decoder common.Decoder) common.Decoder {
	switch d := decoder.(type) {
	case *ImageDecoder:
		d.raw = true
	case *IconDecoder:
		d.raw = true
	case *ImageListDecoder:
		d.raw = true
	}
	return decoder
}
