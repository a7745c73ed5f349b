package psfs

import (
	"errors"
	"io"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
)

// SeekFromDataOffset positions the stream relative to the header data_offset.
const SeekFromDataOffset = 4

// PkgStream reads the encrypted data region of a PKG. The keystream is
// rederived from the seed for every read, so seeking backwards and reading
// again returns the same plaintext.
type PkgStream struct {
	file       io.ReaderAt
	dataOffset int64
	keystream  *pscrypto.Keystream
	pos        int64
}

func newPkgStream(file io.ReaderAt, dataOffset int64, keystream *pscrypto.Keystream) *PkgStream {
	return &PkgStream{file: file, dataOffset: dataOffset, keystream: keystream, pos: dataOffset}
}

func (s *PkgStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case SeekFromDataOffset:
		abs = s.dataOffset + offset
	default:
		return 0, errors.New("pkg stream: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("pkg stream: negative position")
	}
	s.pos = abs
	return abs, nil
}

func (s *PkgStream) Read(p []byte) (int, error) {
	return s.ReadWithKey(p, nil)
}

// ReadWithKey decrypts with key instead of the container key. A nil key
// selects the container key.
func (s *PkgStream) ReadWithKey(p []byte, key []byte) (int, error) {
	n, err := s.ReadAtWithKey(p, s.pos, key)
	s.pos += int64(n)
	return n, err
}

// ReadAtWithKey decrypts len(p) bytes at absolute position off without
// touching the stream position.
func (s *PkgStream) ReadAtWithKey(p []byte, off int64, key []byte) (int, error) {
	if off < s.dataOffset {
		return 0, newError(UnsupportedOperation, "pkg stream read before data offset", s.dataOffset, off)
	}
	n, err := s.file.ReadAt(p, off)
	if n > 0 {
		if xerr := s.keystream.XORKeyStream(p[:n], off, key); xerr != nil {
			return 0, xerr
		}
	}
	return n, err
}

func (s *PkgStream) ReadAt(p []byte, off int64) (int, error) {
	return s.ReadAtWithKey(p, off, nil)
}

func (s *PkgStream) Write(p []byte) (int, error) {
	return 0, newError(UnsupportedOperation, "pkg stream write", nil, nil)
}
