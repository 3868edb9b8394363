// Package extract writes classified resources of one container to disk.
package extract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"resextractor/internal/classify"
	"resextractor/internal/dedup"
	"resextractor/internal/naming"
	"resextractor/internal/progress"
)

const (
	resourcesSuffix = ".resources"
	bamlSuffix      = ".baml"
)

// ShortName is the file-name prefix for a manifest resource. In separate-folder mode the
// container's own base name is dropped from the front, since the folder already carries it.
func ShortName(resname, containerBase string, separate bool) string {
	trim := containerBase + "."
	if separate && strings.HasPrefix(resname, trim) {
		resname = resname[len(trim):]
	}
	return naming.Sanitize(resname)
}

// SetPrefix turns the short name of a resource set into the prefix of its entries:
// "Form1.resources" becomes "Form1.".
func SetPrefix(short string) string {
	if len(short) < len(resourcesSuffix) {
		return ""
	}
	return short[:len(short)-len(resourcesSuffix)] + "."
}

// IsResourceSet reports whether a manifest resource is a serialized resource set.
func IsResourceSet(resname string) bool {
	return strings.HasSuffix(resname, resourcesSuffix)
}

// Stats counts what a Writer did.
type Stats struct {
	Written    int
	Duplicates int
	Unhandled  int
	Failed     int
	// Files lists where kept content rests, in write order.
	Files []string
}

type Writer struct {
	folder string
	alloc  *naming.Allocator
	dedup  *dedup.Deduplicator
	logger *slog.Logger
	Stats
}

// NewWriter writes into folder, which is created on the first reservation.
func NewWriter(folder string, alloc *naming.Allocator, dd *dedup.Deduplicator, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{folder: folder, alloc: alloc, dedup: dd, logger: logger}
}

func (w *Writer) Folder() string {
	return w.folder
}

// path places name directly in the folder. Names are never cleaned against it, so "." and ".."
// stay literal parts of the file name.
func (w *Writer) path(name string) string {
	return w.folder + string(filepath.Separator) + name
}

// WriteBlob stores a resource that is not a resource set under its short name, unchanged.
func (w *Writer) WriteBlob(short string, data []byte) error {
	if err := w.write(w.path(short), data); err != nil {
		w.fail(short, err)
		return err
	}
	return nil
}

// WriteSet stores every entry of one resource set. Short strings are merged into a single
// ".resx" document written after the entries. A failed entry is logged and counted, and does
// not stop the others; the returned error is the string document's.
func (w *Writer) WriteSet(resname, short string, entries []classify.Resource) error {
	prefix := SetPrefix(short)
	strs := NewStringTable()

	for _, res := range entries {
		if err := w.writeEntry(resname, prefix, res, strs); err != nil {
			w.fail(resname+"/"+res.Key, err)
		}
	}
	if strs.Len() == 0 {
		return nil
	}

	name := prefix
	if name == "" {
		name = naming.Sanitize(resname[:len(resname)-len("resources")])
	}
	var b strings.Builder
	if err := strs.WriteResx(&b); err != nil {
		return errors.Wrap(err, "unable to render string table")
	}
	if err := w.write(w.path(name+"resx"), []byte(b.String())); err != nil {
		w.fail(name+"resx", err)
		return err
	}
	return nil
}

func (w *Writer) writeEntry(resname, prefix string, res classify.Resource, strs *StringTable) error {
	base := w.path(prefix + naming.Sanitize(res.Key))

	switch res.Kind {
	case classify.ShortText:
		strs.Add(res.Key, res.Text)
		return nil
	case classify.LongText:
		return w.write(base+dedup.TempExtension(), []byte(res.Text))
	case classify.Image, classify.Icon:
		return w.write(base+res.Payloads[0].Extension, res.Payloads[0].Data)
	case classify.ImageList:
		for i, tile := range res.Payloads {
			if err := w.write(fmt.Sprintf("%s[%d]%s", base, i, tile.Extension), tile.Data); err != nil {
				return err
			}
		}
		return nil
	case classify.Stream:
		if strings.HasSuffix(res.Key, bamlSuffix) {
			return w.write(base, res.Payloads[0].Data)
		}
		return w.write(base+dedup.TempExtension(), res.Payloads[0].Data)
	case classify.ByteBuffer:
		return w.write(base+dedup.TempExtension(), res.Payloads[0].Data)
	}

	w.Unhandled++
	w.logger.Info(fmt.Sprintf("%s: UNHANDLED Key=%s Value=%s", resname, res.Key, res.Reason),
		progress.Stage(progress.StageUnhandled))
	return nil
}

// fail records an entry that could not be written. The rest of the container still proceeds.
func (w *Writer) fail(what string, err error) {
	w.Failed++
	w.logger.Error(fmt.Sprintf("ERROR: %s: %v", what, err), progress.Stage(progress.StageWorkerError))
}

// write reserves a unique name near suggested, fills it and settles it with the deduplicator.
func (w *Writer) write(suggested string, data []byte) error {
	path, err := w.alloc.Reserve(suggested)
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write %s", path)
	}
	outcome, err := w.dedup.Fixup(path)
	if err != nil {
		return err
	}
	if outcome.Duplicate {
		w.Duplicates++
		return nil
	}
	w.Written++
	w.Files = append(w.Files, outcome.Path)
	return nil
}
