package streaming

import (
	"io"
	"unicode/utf8"
)

const defaultReadSize = 4096

// ReaderSource turns a raw response body into text chunks. Multi-byte UTF-8
// sequences split across reads are held back until they are complete.
type ReaderSource struct {
	r       io.Reader
	buf     []byte
	pending []byte
	err     error
	closed  bool
}

func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{
		r:   r,
		buf: make([]byte, defaultReadSize),
	}
}

func (s *ReaderSource) Recv() (string, error) {
	for {
		if s.err != nil {
			if len(s.pending) > 0 {
				// flush a truncated trailing sequence as is
				tail := string(s.pending)
				s.pending = nil
				return tail, nil
			}
			return "", s.err
		}
		if s.closed {
			return "", io.EOF
		}

		n, err := s.r.Read(s.buf)
		if err != nil {
			// delivered after the data of this read
			s.err = err
		}
		if n > 0 {
			data := append(s.pending, s.buf[:n]...)
			cut := completePrefix(data)
			s.pending = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				return string(data[:cut]), nil
			}
		}
	}
}

// Close closes the underlying reader if it is an io.Closer.
func (s *ReaderSource) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		_ = c.Close()
	}
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside an incomplete UTF-8 sequence.
func completePrefix(b []byte) int {
	// a rune is at most utf8.UTFMax bytes, so only the tail needs checking
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return len(b)
		}
		return i
	}
	return len(b)
}

// SliceSource replays a fixed list of chunks, then returns Err (io.EOF if nil).
type SliceSource struct {
	Chunks []string
	Err    error
	Closed bool
	pos    int
}

func NewSliceSource(chunks ...string) *SliceSource {
	return &SliceSource{Chunks: chunks}
}

func (s *SliceSource) Recv() (string, error) {
	if s.pos < len(s.Chunks) {
		s.pos++
		return s.Chunks[s.pos-1], nil
	}
	if s.Err != nil {
		return "", s.Err
	}
	return "", io.EOF
}

func (s *SliceSource) Close() {
	s.Closed = true
}

var (
	_ Source = (*ReaderSource)(nil)
	_ Source = (*SliceSource)(nil)
)
