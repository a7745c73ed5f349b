package psfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/avast/retry-go"
)

type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// File is a random access input with a known size.
type File interface {
	ReadAtCloser
	Size() int64
}

type splitFile struct {
	parts     []*os.File
	sizes     []int64
	chunkSize int64
	size      int64
}

type fileWrapper struct {
	file *os.File
	size int64
}

func NewFileWrapper(filePath string) (*fileWrapper, error) {
	file, err := _openFile(filePath)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &fileWrapper{file: file, size: info.Size()}, nil
}

func (fw *fileWrapper) ReadAt(p []byte, off int64) (n int, err error) {
	if fw.file != nil {
		return fw.file.ReadAt(p, off)
	}
	return 0, errors.New("file is not opened")
}

func (fw *fileWrapper) Size() int64 {
	return fw.size
}

func (fw *fileWrapper) Close() error {
	if fw.file != nil {
		return fw.file.Close()
	}
	return nil
}

// splitPartName returns the numeric suffix of a FAT32 split dump
// ("game.iso.0", "UP0001.pkg.66600") and the path without it.
func splitPartName(filePath string) (string, string, bool) {
	ext := filepath.Ext(filePath)
	if len(ext) < 2 {
		return "", "", false
	}
	if _, err := strconv.Atoi(ext[1:]); err != nil {
		return "", "", false
	}
	return strings.TrimSuffix(filePath, ext), ext[1:], true
}

// firstPartSuffixes are the suffixes a split dump starts at: PS3 FAT32
// game dumps count from ".0", split packages from ".66600".
var firstPartSuffixes = map[string]bool{"0": true, "66600": true}

// SplitPart strips a numeric split suffix from name. first reports whether
// the suffix is one a split dump starts at; ok is false without a suffix.
func SplitPart(name string) (base string, first bool, ok bool) {
	base, suffix, ok := splitPartName(name)
	if !ok {
		return name, false, false
	}
	return base, firstPartSuffixes[suffix], true
}

func nextPartName(suffix string) string {
	n, _ := strconv.Atoi(suffix)
	return fmt.Sprintf("%0*d", len(suffix), n+1)
}

// NewSplitFileReader opens every consecutive part starting at filePath.
func NewSplitFileReader(filePath string) (*splitFile, error) {
	base, suffix, ok := splitPartName(filePath)
	if !ok {
		return nil, errors.New("not a split file - " + filePath)
	}
	result := &splitFile{}
	for {
		partPath := base + "." + suffix
		info, err := os.Stat(partPath)
		if err != nil {
			break
		}
		file, err := _openFile(partPath)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.parts = append(result.parts, file)
		result.sizes = append(result.sizes, info.Size())
		result.size += info.Size()
		suffix = nextPartName(suffix)
	}
	if len(result.parts) == 0 {
		return nil, errors.New("missing first part - " + filePath)
	}
	if result.sizes[0] == 0 {
		result.Close()
		return nil, newError(SizeConstraintViolation, "split first part size", "> 0", int64(0))
	}
	result.chunkSize = result.sizes[0]
	return result, nil
}

func (sp *splitFile) ReadAt(p []byte, off int64) (n int, err error) {
	for n < len(p) {
		if off >= sp.size {
			return n, io.EOF
		}
		//calculate the part containing the offset
		part := int(off / sp.chunkSize)
		if part >= len(sp.parts) {
			return n, errors.New("missing part " + strconv.Itoa(part))
		}
		partOff := off - sp.chunkSize*int64(part)
		toRead := len(p) - n
		if remaining := sp.sizes[part] - partOff; int64(toRead) > remaining {
			toRead = int(remaining)
		}
		read, err := sp.parts[part].ReadAt(p[n:n+toRead], partOff)
		n += read
		off += int64(read)
		if err != nil && err != io.EOF {
			return n, err
		}
		if read == 0 {
			return n, io.ErrUnexpectedEOF
		}
	}
	return n, nil
}

func (sp *splitFile) Size() int64 {
	return sp.size
}

func (sp *splitFile) Close() error {
	for _, file := range sp.parts {
		if file != nil {
			file.Close()
		}
	}
	return nil
}

func _openFile(path string) (*os.File, error) {
	var file *os.File
	err := retry.Do(
		func() error {
			var err error
			file, err = os.Open(path)
			return err
		},
		retry.Attempts(5),
		retry.RetryIf(func(err error) bool {
			return !os.IsNotExist(err)
		}),
	)
	return file, err
}

// OpenFile opens a plain file or, when the name ends in a numeric part
// suffix, every part of a split dump.
func OpenFile(filePath string) (File, error) {
	if _, _, ok := splitPartName(filePath); ok {
		return NewSplitFileReader(filePath)
	}
	return NewFileWrapper(filePath)
}
