package progress

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FileSink appends lines to "<path>.temp" and moves the file into place on Close.
type FileSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
}

func OpenFileSink(path string) (*FileSink, error) {
	temp := path + ".temp"
	f, err := os.OpenFile(temp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open log file %s", temp)
	}
	return &FileSink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	s.w.WriteString(strings.TrimRight(line, "\r\n"))
	s.w.WriteString("\n")
}

func (s *FileSink) Sink() Sink {
	return s.Write
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return errors.Wrap(err, "unable to flush log file")
	}
	if err := s.f.Close(); err != nil {
		return errors.Wrap(err, "unable to close log file")
	}
	s.f, s.w = nil, nil
	os.Remove(s.path)
	if err := os.Rename(s.path+".temp", s.path); err != nil {
		return errors.Wrapf(err, "unable to move log file to %s", s.path)
	}
	return nil
}
