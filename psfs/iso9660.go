package psfs

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

type ISO9660 struct {
	Path        string
	Size        int64
	BlockSize   int64
	Descriptors []VolumeDescriptor
	// first descriptor of each type, as the set may repeat types
	ByType        map[DescriptorType]VolumeDescriptor
	Primary       *PrimaryVolumeDescriptor
	Supplementary *PrimaryVolumeDescriptor
	PathTable     []*PathTableRecord
	// SawTerminator is false when the walk ended on a sector without CD001
	// instead of a terminator descriptor.
	SawTerminator bool

	file   io.ReaderAt
	closer io.Closer
}

// OpenISO opens an image, following split dumps (game.iso.0, game.iso.1...).
func OpenISO(filePath string) (*ISO9660, error) {
	file, _, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	iso, err := NewISO(file, file.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open iso %v: %w", filePath, err)
	}
	iso.Path = filePath
	iso.closer = file
	return iso, nil
}

func NewISO(r io.ReaderAt, size int64) (*ISO9660, error) {
	if size == 0 {
		return nil, newError(EmptyInput, "iso", nil, nil)
	}
	iso := &ISO9660{Size: size, BlockSize: isoSectorSize, ByType: map[DescriptorType]VolumeDescriptor{}, file: r}
	if err := iso.readDescriptors(); err != nil {
		return nil, err
	}
	if iso.Primary != nil {
		if err := iso.readPathTable(); err != nil {
			return nil, err
		}
	}
	return iso, nil
}

func (iso *ISO9660) ReadSectors(sector int64, count int64) ([]byte, error) {
	buf := make([]byte, iso.BlockSize*count)
	n, err := iso.file.ReadAt(buf, sector*iso.BlockSize)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, newError(TruncatedInput, fmt.Sprintf("sector %v", sector), len(buf), n)
	}
	return nil, err
}

func (iso *ISO9660) readDescriptors() error {
	for sector := int64(isoFirstDescriptor); ; sector++ {
		data, err := iso.ReadSectors(sector, 1)
		if err != nil {
			if iso.SawTerminator && IsKind(err, TruncatedInput) {
				return nil
			}
			return err
		}
		base := parseBaseDescriptor(data)
		if base.StandardIdentifier != isoStandardIdentifier {
			if sector == isoFirstDescriptor {
				return newError(MagicMismatch, "iso standard identifier", isoStandardIdentifier, data[1:6])
			}
			if !iso.SawTerminator {
				zap.S().Warnf("ISO descriptor walk stopped at sector %v without a terminator", sector)
			}
			return nil
		}
		descriptor, err := parseDescriptor(data)
		if err != nil {
			return fmt.Errorf("descriptor at sector %v: %w", sector, err)
		}
		zap.S().Debugf("ISO descriptor %v at sector %v", base.Type, sector)
		iso.Descriptors = append(iso.Descriptors, descriptor)
		if _, ok := iso.ByType[base.Type]; !ok {
			iso.ByType[base.Type] = descriptor
		}
		switch d := descriptor.(type) {
		case *PrimaryVolumeDescriptor:
			if base.Type == DescriptorPrimary && iso.Primary == nil {
				iso.Primary = d
			} else if base.Type == DescriptorSupplementary && iso.Supplementary == nil {
				iso.Supplementary = d
			}
		case *TerminatorDescriptor:
			iso.SawTerminator = true
		}
	}
}

func (iso *ISO9660) readPathTable() error {
	p := iso.Primary
	if p.LogicalBlockSize != 0 {
		iso.BlockSize = int64(p.LogicalBlockSize)
	}
	count := (int64(p.PathTableSize) + iso.BlockSize - 1) / iso.BlockSize
	if count == 0 {
		return nil
	}
	data, err := iso.ReadSectors(int64(p.LPathTableLocation), count)
	if err != nil {
		return fmt.Errorf("path table: %w", err)
	}
	data = data[:p.PathTableSize]
	for offset := 0; offset < len(data); {
		record, err := parsePathTableRecord(data[offset:])
		if err != nil {
			return fmt.Errorf("path table record at %v: %w", offset, err)
		}
		iso.PathTable = append(iso.PathTable, record)
		offset += record.Size
	}
	return nil
}

// ReadDirectory lists the records of a directory extent, including the
// "." and ".." entries. Records never span sectors; the rest of a sector
// after a zero length byte is padding.
func (iso *ISO9660) ReadDirectory(dir *DirectoryRecord) ([]*DirectoryRecord, error) {
	if !dir.IsDirectory() {
		return nil, newError(UnsupportedOperation, "read directory of file", nil, dir.Identifier)
	}
	count := (int64(dir.DataLength) + iso.BlockSize - 1) / iso.BlockSize
	data, err := iso.ReadSectors(int64(dir.LBALocation), count)
	if err != nil {
		return nil, err
	}
	data = data[:dir.DataLength]
	var records []*DirectoryRecord
	for offset := 0; offset < len(data); {
		length := int(data[offset])
		if length == 0 {
			offset = int((int64(offset)/iso.BlockSize + 1) * iso.BlockSize)
			continue
		}
		if offset+length > len(data) {
			return nil, newError(TruncatedInput, "directory record", length, len(data)-offset)
		}
		record, err := parseDirectoryRecord(data[offset:offset+length], dir.joliet)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		offset += length
	}
	return records, nil
}

// FileReader returns the content of a file record.
func (iso *ISO9660) FileReader(record *DirectoryRecord) *io.SectionReader {
	return io.NewSectionReader(iso.file, int64(record.LBALocation)*iso.BlockSize, int64(record.DataLength))
}

func (iso *ISO9660) Close() error {
	if iso.closer == nil {
		return nil
	}
	err := iso.closer.Close()
	iso.closer = nil
	return err
}
