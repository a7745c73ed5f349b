package psfs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	psarcHeaderSize    = 0x20
	psarcTocEntryBytes = 30
)

var psarcMagic = []byte("PSAR")

type PsarcCompression string

const (
	PsarcCompressionZlib PsarcCompression = "zlib"
	PsarcCompressionLzma PsarcCompression = "lzma"
)

type PsarcPathType uint32

const (
	PsarcPathRelative   PsarcPathType = 0x00
	PsarcPathIgnoreCase PsarcPathType = 0x01
	PsarcPathAbsolute   PsarcPathType = 0x02
)

func (t PsarcPathType) String() string {
	switch t {
	case PsarcPathRelative:
		return "RELATIVE"
	case PsarcPathIgnoreCase:
		return "IGNORE_CASE"
	case PsarcPathAbsolute:
		return "ABSOLUTE"
	}
	return fmt.Sprintf("PsarcPathType(%d)", uint32(t))
}

type PsarcHeader struct {
	VersionMajor  uint16
	VersionMinor  uint16
	Compression   PsarcCompression
	TocLength     uint32
	TocEntrySize  uint32
	TocEntryCount uint32
	BlockSize     uint32
	PathType      PsarcPathType
}

func (h *PsarcHeader) Version() string {
	return fmt.Sprintf("v%d.%d", h.VersionMajor, h.VersionMinor)
}

type PsarcEntry struct {
	Index            int
	Name             string
	NameDigest       []byte
	BlockIndex       uint32
	DecompressedSize uint64
	Offset           uint64
}

type PsarcOptions struct {
	Decompress DecompressOptions
}

type Psarc struct {
	Path    string
	Size    int64
	Header  *PsarcHeader
	Entries []*PsarcEntry

	file   io.ReaderAt
	closer io.Closer
	opts   PsarcOptions
}

func OpenPsarc(filePath string, opts PsarcOptions) (*Psarc, error) {
	file, _, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	psarc, err := NewPsarc(file, file.Size(), opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open psarc %v: %w", filePath, err)
	}
	psarc.Path = filePath
	psarc.closer = file
	return psarc, nil
}

func NewPsarc(r io.ReaderAt, size int64, opts PsarcOptions) (*Psarc, error) {
	if size == 0 {
		return nil, newError(EmptyInput, "psarc", nil, nil)
	}
	reader := NewReader(io.NewSectionReader(r, 0, size))
	header, err := parseHeader(reader, "PSARC", psarcMagic, readPsarcHeaderFields)
	if err != nil {
		return nil, err
	}
	p := &Psarc{Size: size, Header: header, file: r, opts: opts}
	if err := p.readToc(reader); err != nil {
		return nil, err
	}
	if err := p.readNames(); err != nil {
		return nil, err
	}
	return p, nil
}

func readPsarcHeaderFields(r *Reader, h *PsarcHeader) error {
	var err error
	if h.VersionMajor, err = r.ReadU16(bigEndian); err != nil {
		return err
	}
	if h.VersionMinor, err = r.ReadU16(bigEndian); err != nil {
		return err
	}
	compression, err := r.ReadBytes(4)
	if err != nil {
		return err
	}
	h.Compression = PsarcCompression(compression)
	if h.Compression != PsarcCompressionZlib && h.Compression != PsarcCompressionLzma {
		return newError(UnknownVariant, "psarc compression", "zlib|lzma", compression)
	}
	for _, dst := range []*uint32{&h.TocLength, &h.TocEntrySize, &h.TocEntryCount, &h.BlockSize} {
		if *dst, err = r.ReadU32(bigEndian); err != nil {
			return err
		}
	}
	pathType, err := r.ReadU32(bigEndian)
	if err != nil {
		return err
	}
	h.PathType = PsarcPathType(pathType)
	if h.PathType > PsarcPathAbsolute {
		return newError(UnknownVariant, "psarc path type", "0-2", pathType)
	}
	if h.TocEntrySize < psarcTocEntryBytes {
		return newError(SizeConstraintViolation, "psarc toc entry size", psarcTocEntryBytes, h.TocEntrySize)
	}
	zap.S().Debugf("PSARC %v, compression %v, %v entries, block size %v, path type %v",
		h.Version(), h.Compression, h.TocEntryCount, h.BlockSize, h.PathType)
	return nil
}

func (p *Psarc) readToc(r *Reader) error {
	for i := 0; i < int(p.Header.TocEntryCount); i++ {
		offset := int64(psarcHeaderSize) + int64(i)*int64(p.Header.TocEntrySize)
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		entry := &PsarcEntry{Index: i}
		var err error
		if entry.NameDigest, err = r.ReadBytes(0x10); err != nil {
			return fmt.Errorf("toc entry #%v: %w", i, err)
		}
		if entry.BlockIndex, err = r.ReadU32(bigEndian); err != nil {
			return fmt.Errorf("toc entry #%v: %w", i, err)
		}
		if entry.DecompressedSize, err = r.ReadU40(); err != nil {
			return fmt.Errorf("toc entry #%v: %w", i, err)
		}
		if entry.Offset, err = r.ReadU40(); err != nil {
			return fmt.Errorf("toc entry #%v: %w", i, err)
		}
		zap.S().Debugf("TOC entry #%v: block %v, offset %v, %v", i, entry.BlockIndex, entry.Offset, humanize.Bytes(entry.DecompressedSize))
		p.Entries = append(p.Entries, entry)
	}
	return nil
}

// readNames assigns the lines of the manifest held by entry 0 to entries
// 1..N. Entries without a line keep an empty name.
func (p *Psarc) readNames() error {
	if len(p.Entries) == 0 {
		return nil
	}
	if p.Header.Compression == PsarcCompressionLzma {
		zap.S().Warnf("PSARC names are not available for lzma archives")
		return nil
	}
	manifest, err := p.ReadEntry(p.Entries[0])
	if err != nil {
		return fmt.Errorf("psarc manifest: %w", err)
	}
	names, err := splitManifest(manifest)
	if err != nil {
		return err
	}
	for i, name := range names {
		index := i + 1
		if index >= len(p.Entries) {
			zap.S().Warnf("PSARC manifest lists %v names for %v entries", len(names), len(p.Entries)-1)
			break
		}
		p.Entries[index].Name = name
		zap.S().Infof("Entry #%v (%v): %v", index, humanize.Bytes(p.Entries[index].DecompressedSize), name)
	}
	return nil
}

func splitManifest(manifest []byte) ([]string, error) {
	if _, err := decodeString(manifest, nil); err != nil {
		return nil, fmt.Errorf("psarc manifest: %w", err)
	}
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(manifest))
	scanner.Buffer(make([]byte, 0, 4096), len(manifest)+1)
	for scanner.Scan() {
		names = append(names, scanner.Text())
	}
	return names, scanner.Err()
}

// Chunks iterates over the decompressed blocks of entry.
func (p *Psarc) Chunks(entry *PsarcEntry) (*ChunkReader, error) {
	if p.Header.Compression == PsarcCompressionLzma {
		return nil, newError(UnsupportedOperation, "lzma decompression", nil, entry.Name)
	}
	if int64(entry.Offset) > p.Size {
		return nil, newError(TruncatedInput, "psarc entry offset", entry.Offset, p.Size)
	}
	src := io.NewSectionReader(p.file, int64(entry.Offset), p.Size-int64(entry.Offset))
	return DecompressStream(src, entry.DecompressedSize, p.Header.BlockSize, p.opts.Decompress), nil
}

// EntryReader streams the decompressed content of entry.
func (p *Psarc) EntryReader(entry *PsarcEntry) (io.Reader, error) {
	chunks, err := p.Chunks(entry)
	if err != nil {
		return nil, err
	}
	return chunks.Reader(), nil
}

func (p *Psarc) ReadEntry(entry *PsarcEntry) ([]byte, error) {
	r, err := p.EntryReader(entry)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (p *Psarc) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}
