package mrtd

import "io"

// FileStream reads one elementary file sequentially through the file
// system. Marking records a logical offset only; resetting rewinds to it
// without refetching anything already buffered. The stream owns a scratch
// copy of whatever ReadAll hands out, wiped on Close.
type FileStream struct {
	fs      *FileSystem
	fid     uint16
	length  int
	pos     int
	mark    int
	scratch []byte
	closed  bool
}

// newFileStream selects the file and discovers its length.
func newFileStream(fs *FileSystem, fid uint16) (*FileStream, error) {
	length, err := fs.FileLength(fid)
	if err != nil {
		return nil, err
	}
	return &FileStream{fs: fs, fid: fid, length: length}, nil
}

// Len returns the number of bytes remaining.
func (s *FileStream) Len() int { return s.length - s.pos }

// Size returns the total file length.
func (s *FileStream) Size() int { return s.length }

// Mark records the current position for a later Reset.
func (s *FileStream) Mark() { s.mark = s.pos }

// Reset rewinds to the last marked position (the start, if never marked).
func (s *FileStream) Reset() { s.pos = s.mark }

func (s *FileStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.pos >= s.length {
		return 0, io.EOF
	}
	n := min(len(p), s.length-s.pos)
	if n == 0 {
		return 0, nil
	}
	s.fs.SelectFile(s.fid)
	window, err := s.fs.ReadBinary(s.pos, n)
	if err != nil {
		return 0, err
	}
	copy(p, window)
	s.pos += n
	return n, nil
}

// ReadAll returns the remaining content in one slice. The slice is owned
// by the stream and becomes invalid on Close.
func (s *FileStream) ReadAll() ([]byte, error) {
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.pos >= s.length {
		return nil, nil
	}
	s.fs.SelectFile(s.fid)
	window, err := s.fs.ReadBinary(s.pos, s.length-s.pos)
	if err != nil {
		return nil, err
	}
	wipe(s.scratch)
	s.scratch = append(s.scratch[:0], window...)
	s.pos = s.length
	return s.scratch, nil
}

// Close wipes the scratch buffer. Further reads fail.
func (s *FileStream) Close() error {
	wipe(s.scratch)
	s.scratch = nil
	s.closed = true
	return nil
}
