// Package classify maps resource-set entries onto the closed set of kinds the extractor writes.
package classify

import (
	"unicode/utf16"

	"resextractor/internal/common"
	"resextractor/internal/resources"
)

type Kind int

const (
	Unsupported Kind = iota
	Image
	Icon
	ImageList
	ShortText
	LongText
	Stream
	ByteBuffer
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Icon:
		return "icon"
	case ImageList:
		return "image list"
	case ShortText:
		return "short text"
	case LongText:
		return "long text"
	case Stream:
		return "stream"
	case ByteBuffer:
		return "byte buffer"
	}
	return "unsupported"
}

const DefaultStringThreshold = 1024

// Resource is one classified entry. Payloads is empty for text kinds and for Unsupported.
type Resource struct {
	Key      string
	Kind     Kind
	TypeName string
	Text     string
	Payloads []common.Payload
	// Reason explains an Unsupported classification.
	Reason string
}

type Classifier struct {
	// StringThreshold is in UTF-16 code units; strings at or above it become LongText.
	StringThreshold int
}

func New(threshold int) *Classifier {
	if threshold <= 0 {
		threshold = DefaultStringThreshold
	}
	return &Classifier{StringThreshold: threshold}
}

// TextLength counts UTF-16 code units, the unit the threshold is defined in.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func (c *Classifier) Classify(e resources.Entry) Resource {
	res := Resource{Key: e.Name, TypeName: e.TypeName}

	switch {
	case e.Code == resources.TypeString:
		res.Text = e.String
		res.Kind = ShortText
		if TextLength(e.String) >= c.StringThreshold {
			res.Kind = LongText
		}
		return res
	case e.Code == resources.TypeByteArray:
		res.Kind = ByteBuffer
		res.Payloads = []common.Payload{{Data: e.Data}}
		return res
	case e.Code == resources.TypeStream:
		res.Kind = Stream
		res.Payloads = []common.Payload{{Data: e.Data}}
		return res
	case e.IsUserType():
		return c.classifyObject(e, res)
	}

	res.Kind = Unsupported
	res.Reason = e.TypeName
	return res
}

func (c *Classifier) classifyObject(e resources.Entry, res Resource) Resource {
	res.Kind = Unsupported
	res.Reason = e.TypeName

	decoder, err := FindDecoder(e.TypeName, e.Data)
	if err != nil {
		return res
	}
	switch e.Format {
	case resources.FormatNone, resources.FormatBinaryFormatter:
	case resources.FormatTypeConverterByteArray, resources.FormatActivatorStream:
		decoder = rawDecoder(decoder)
	default:
		res.Reason = e.TypeName + " (type converter string)"
		return res
	}

	payloads, err := decoder.Decode()
	if err != nil {
		res.Reason = e.TypeName + ": " + err.Error()
		return res
	}
	if len(payloads) == 0 {
		res.Reason = e.TypeName + ": empty"
		return res
	}

	switch decoder.Name() {
	case "Icon":
		res.Kind = Icon
	case "ImageList":
		res.Kind = ImageList
	default:
		res.Kind = Image
	}
	res.Payloads = payloads
	res.Reason = ""
	return res
}
