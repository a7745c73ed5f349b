package psfs

import (
	"bytes"
	"io"

	"go.uber.org/zap"
)

// readMagic reads exactly len(magic) bytes and fails with MagicMismatch
// when they differ. Nothing past the magic is interpreted.
func readMagic(r *Reader, name string, magic []byte) error {
	got, err := r.ReadBytes(len(magic))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, magic) {
		zap.S().Debugf("%v: invalid magic %X", name, got)
		return newError(MagicMismatch, name+" magic", magic, got)
	}
	zap.S().Debugf("%v: magic verified", name)
	return nil
}

// parseHeader validates the magic and hands the stream to the format
// specific field parser.
func parseHeader[H any](r *Reader, name string, magic []byte, fields func(r *Reader, h *H) error) (*H, error) {
	if err := readMagic(r, name, magic); err != nil {
		return nil, err
	}
	h := new(H)
	if err := fields(r, h); err != nil {
		return nil, err
	}
	return h, nil
}

// openFormat opens a path for one of the format parsers. The caller owns the
// returned file and must close it on every path.
func openFormat(filePath string) (File, *Reader, error) {
	zap.S().Infof("Parsing file: %v", filePath)
	file, err := OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	if file.Size() == 0 {
		file.Close()
		zap.S().Errorf("file is empty: %v", filePath)
		return nil, nil, newError(EmptyInput, filePath, nil, nil)
	}
	return file, NewReader(io.NewSectionReader(file, 0, file.Size())), nil
}
