package psfs

import (
	"bytes"
	"io"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatPkg
	FormatIso
	FormatIrd
	FormatPsarc
	FormatSfo
	FormatPfd
	FormatEdat
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatPkg:     "PKG",
	FormatIso:     "ISO9660",
	FormatIrd:     "IRD",
	FormatPsarc:   "PSARC",
	FormatSfo:     "SFO",
	FormatPfd:     "PFD",
	FormatEdat:    "EDAT",
}

func (f Format) String() string {
	return formatNames[f]
}

var formatMagics = []struct {
	format Format
	magic  []byte
}{
	{FormatPkg, pkgMagic},
	{FormatIrd, irdMagic},
	{FormatIrd, irdCompressedMagic},
	{FormatPsarc, psarcMagic},
	{FormatSfo, sfoMagic},
	{FormatPfd, pfdMagic},
	{FormatEdat, edatMagic},
}

// DetectFormat identifies a container by its magic. ISO images are
// recognised by the standard identifier of the first volume descriptor.
func DetectFormat(r io.ReaderAt, size int64) (Format, error) {
	if size == 0 {
		return FormatUnknown, newError(EmptyInput, "detect", nil, nil)
	}
	head := make([]byte, 8)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return FormatUnknown, err
	}
	head = head[:n]
	for _, m := range formatMagics {
		if bytes.HasPrefix(head, m.magic) {
			return m.format, nil
		}
	}

	id := make([]byte, len(isoStandardIdentifier))
	if size >= isoFirstDescriptor*isoSectorSize+6 {
		if _, err := r.ReadAt(id, isoFirstDescriptor*isoSectorSize+1); err == nil && string(id) == isoStandardIdentifier {
			return FormatIso, nil
		}
	}
	return FormatUnknown, newError(MagicMismatch, "detect", nil, head)
}

// DetectFile opens filePath, split dumps included, and detects its format.
func DetectFile(filePath string) (Format, error) {
	file, err := OpenFile(filePath)
	if err != nil {
		return FormatUnknown, err
	}
	defer file.Close()
	return DetectFormat(file, file.Size())
}
