package classify

import (
	"bytes"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

// ExifInfo is what inspect reports about camera metadata carried by an image resource.
type ExifInfo struct {
	Model     string
	Timestamp string
	GPS       bool
	Tags      int
}

// AnalyzeExif reads the Exif block of a JPEG or TIFF payload. ok is false when there is none.
func AnalyzeExif(data []byte) (info ExifInfo, ok bool) {
	switch DetectFormat(data) {
	case FormatJPEG, FormatTIFF:
	default:
		return info, false
	}

	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(data), nil, true)
	if err != nil || len(tags) == 0 {
		return info, false
	}
	for _, tag := range tags {
		switch {
		case tag.TagName == "Model":
			info.Model = strings.TrimSpace(tag.FormattedFirst)
		case tag.TagName == "DateTimeOriginal", tag.TagName == "DateTime" && info.Timestamp == "":
			info.Timestamp = strings.TrimSpace(tag.FormattedFirst)
		case strings.HasPrefix(tag.TagName, "GPS") || strings.Contains(tag.IfdPath, "GPS"):
			info.GPS = true
		}
	}
	info.Tags = len(tags)
	return info, true
}
