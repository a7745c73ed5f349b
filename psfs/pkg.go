package psfs

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"go.uber.org/zap"
)

const pkgFileHashTail = 0x20

type PkgOptions struct {
	Keys       *KeyRing
	NameCodecs *NameCodecTable
	// GuessNames picks the first clean codec for names missing from NameCodecs.
	GuessNames bool
	// SkipVerify disables the header and whole file SHA-1 checks.
	SkipVerify bool
}

type Pkg struct {
	Path     string
	Size     int64
	Header   *PkgHeader
	Metadata []*PkgMetadata
	Entries  []*PkgEntry

	DrmType                  DrmType
	ContentType              ContentType
	TitleID                  string
	SystemVersion            string
	AppVersion               string
	PackageVersion           string
	MakePackageNpdrmRevision uint16
	QADigest                 []byte
	InstallDirectory         string

	file         io.ReaderAt
	closer       io.Closer
	stream       *PkgStream
	containerKey []byte
	keys         *KeyRing
}

func OpenPkg(filePath string, opts PkgOptions) (*Pkg, error) {
	file, _, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	pkg, err := NewPkg(file, file.Size(), opts)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open pkg %v: %w", filePath, err)
	}
	pkg.Path = filePath
	pkg.closer = file
	return pkg, nil
}

// NewPkg parses a package from r. The caller keeps ownership of r.
func NewPkg(r io.ReaderAt, size int64, opts PkgOptions) (*Pkg, error) {
	if size == 0 {
		return nil, newError(EmptyInput, "pkg", nil, nil)
	}
	keys := opts.Keys
	if keys == nil {
		keys = DefaultKeyRing()
	}
	reader := NewReader(io.NewSectionReader(r, 0, size))
	header, err := readPkgHeader(reader)
	if err != nil {
		return nil, err
	}
	pkg := &Pkg{Size: size, Header: header, file: r, keys: keys}

	if !opts.SkipVerify {
		if err := header.VerifyHeaderHash(); err != nil {
			return nil, err
		}
		if err := pkg.VerifyFile(); err != nil {
			return nil, err
		}
	}

	if err := pkg.readMetadata(reader); err != nil {
		return nil, err
	}

	keystream, err := pkg.newKeystream()
	if err != nil {
		return nil, err
	}
	pkg.stream = newPkgStream(r, int64(header.DataOffset), keystream)

	decoder := &NameDecoder{Table: opts.NameCodecs, Guess: opts.GuessNames}
	if err := pkg.readEntries(decoder); err != nil {
		return nil, err
	}
	return pkg, nil
}

// containerKeyFor picks the AES key the data region is encrypted with.
func containerKeyFor(h *PkgHeader, keys *KeyRing) ([]byte, error) {
	if h.Type == PkgTypePS3 {
		return keys.requireKey(PS3GpkgKeyName)
	}
	if h.ExtHeader == nil {
		return keys.requireKey(PSPGpkgKeyName)
	}
	var psp2KeyName string
	switch h.ExtHeader.KeyType() {
	case 1:
		return keys.requireKey(PSPGpkgKeyName)
	case 2:
		psp2KeyName = PSP2GpkgKey2Name
	case 3:
		psp2KeyName = PSP2GpkgKey3Name
	case 4:
		psp2KeyName = PSP2GpkgKey4Name
	default:
		return nil, newError(UnknownVariant, "pkg key type", "1-4", h.ExtHeader.KeyType())
	}
	psp2Key, err := keys.requireKey(psp2KeyName)
	if err != nil {
		return nil, err
	}
	return pscrypto.EncryptAes128Ecb(h.PkgDataRiv[:], psp2Key)
}

func (p *Pkg) newKeystream() (*pscrypto.Keystream, error) {
	dataOffset := int64(p.Header.DataOffset)
	if p.Header.Revision == PkgRevisionDebug {
		zap.S().Debugf("Using debug keystream")
		return pscrypto.NewDebugKeystream(p.Header.Digest, dataOffset), nil
	}
	key, err := containerKeyFor(p.Header, p.keys)
	if err != nil {
		return nil, err
	}
	p.containerKey = key
	ks, err := pscrypto.NewRetailKeystream(p.Header.PkgDataRiv, dataOffset, key)
	if errors.Is(err, pscrypto.ErrMissingKey) {
		return nil, wrapError(MissingKeyMaterial, "pkg container key", err)
	}
	return ks, err
}

func (p *Pkg) readMetadata(r *Reader) error {
	if _, err := r.Seek(int64(p.Header.MetadataOffset), io.SeekStart); err != nil {
		return err
	}
	for i := uint32(0); i < p.Header.MetadataCount; i++ {
		zap.S().Debugf("Processing metadata #%v", i)
		metadata, err := readPkgMetadata(r)
		if err != nil {
			return fmt.Errorf("metadata #%v: %w", i, err)
		}
		p.Metadata = append(p.Metadata, metadata)

		switch v := metadata.Value.(type) {
		case DrmTypeInfo:
			p.DrmType = v.DrmType
		case ContentTypeInfo:
			p.ContentType = v.ContentType
		case PackageVersionInfo:
			p.MakePackageNpdrmRevision = v.MakePackageNpdrmRevision
			p.PackageVersion = v.PackageVersion
		case TitleIDInfo:
			p.TitleID = v.TitleID
		case QADigestInfo:
			p.QADigest = v.Digest
		case VersionInfo:
			p.SystemVersion = v.SystemVersion
			p.PackageVersion = v.PackageVersion
			p.AppVersion = v.AppVersion
		case InstallDirectoryInfo:
			p.InstallDirectory = v.Directory
		}
	}
	return nil
}

func (p *Pkg) readEntries(decoder *NameDecoder) error {
	dataOffset := int64(p.Header.DataOffset)
	for i := 0; i < int(p.Header.ItemCount); i++ {
		record := make([]byte, pkgEntrySize)
		if _, err := p.stream.ReadAtWithKey(record, dataOffset+int64(i*pkgEntrySize), p.containerKey); err != nil {
			return fmt.Errorf("entry #%v: %w", i, truncated(err))
		}
		entry, err := readPkgEntry(i, record)
		if err != nil {
			return fmt.Errorf("entry #%v: %w", i, err)
		}
		entry.DataKey = entryDataKey(p.containerKey, entry.IsPSP, p.keys)

		nameData := make([]byte, entry.NameSize)
		if _, err := p.stream.ReadAtWithKey(nameData, dataOffset+int64(entry.NameOffset), entry.DataKey); err != nil {
			return fmt.Errorf("entry #%v name: %w", i, truncated(err))
		}
		if entry.Name, err = decoder.Decode(nameData); err != nil {
			return fmt.Errorf("entry #%v name: %w", i, err)
		}
		zap.S().Debugf("Entry #%v: %v (%v, %v bytes)", i, entry.Name, entry.Type, entry.FileSize)
		p.Entries = append(p.Entries, entry)
	}
	return nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(TruncatedInput, "", nil, nil)
	}
	return err
}

// VerifyFile checks the SHA-1 stored 0x20 bytes before the end of the file
// against everything before it.
func (p *Pkg) VerifyFile() error {
	if p.Size < pkgFileHashTail {
		return newError(TruncatedInput, "pkg file hash", pkgFileHashTail, p.Size)
	}
	hashed := p.Size - pkgFileHashTail
	stored := make([]byte, sha1.Size)
	if _, err := p.file.ReadAt(stored, hashed); err != nil {
		return truncated(err)
	}
	hasher := sha1.New()
	if _, err := io.Copy(hasher, io.NewSectionReader(p.file, 0, hashed)); err != nil {
		return err
	}
	sum := hasher.Sum(nil)
	if string(sum) != string(stored) {
		return newError(ChecksumMismatch, "pkg sha1", stored, sum)
	}
	zap.S().Infof("PKG SHA1 Hash Verified!")
	return nil
}

// Stream exposes the decrypting view of the data region.
func (p *Pkg) Stream() *PkgStream {
	return p.stream
}

// ContainerKey is nil for DEBUG packages.
func (p *Pkg) ContainerKey() []byte {
	return p.containerKey
}

// ReadEntry decrypts n bytes of entry starting at off within the entry.
func (p *Pkg) ReadEntry(entry *PkgEntry, off int64, n int) ([]byte, error) {
	if !entry.IsFile() {
		return nil, newError(UnsupportedOperation, "read folder entry", nil, entry.Name)
	}
	if off < 0 || n < 0 || uint64(off)+uint64(n) > entry.FileSize {
		return nil, newError(SizeConstraintViolation, "entry range", entry.FileSize, fmt.Sprintf("%v+%v", off, n))
	}
	buf := make([]byte, n)
	abs := int64(p.Header.DataOffset+entry.FileOffset) + off
	read, err := p.stream.ReadAtWithKey(buf, abs, entry.DataKey)
	if err != nil && !(errors.Is(err, io.EOF) && read == n) {
		return nil, truncated(err)
	}
	return buf, nil
}

type entryReaderAt struct {
	stream *PkgStream
	key    []byte
}

func (e *entryReaderAt) ReadAt(b []byte, off int64) (int, error) {
	return e.stream.ReadAtWithKey(b, off, e.key)
}

// EntryReader streams the decrypted content of a file entry.
func (p *Pkg) EntryReader(entry *PkgEntry) *io.SectionReader {
	abs := int64(p.Header.DataOffset + entry.FileOffset)
	return io.NewSectionReader(&entryReaderAt{stream: p.stream, key: entry.DataKey}, abs, int64(entry.FileSize))
}

// ParamSfo parses the PARAM.SFO carried by the package. It returns nil
// without an error when there is none.
func (p *Pkg) ParamSfo() (*Sfo, error) {
	for _, entry := range p.Entries {
		if !entry.IsFile() || !strings.EqualFold(path.Base(entry.Name), "PARAM.SFO") {
			continue
		}
		data, err := p.ReadEntry(entry, 0, int(entry.FileSize))
		if err != nil {
			return nil, err
		}
		return NewSfo(data)
	}
	return nil, nil
}

func (p *Pkg) Close() error {
	if p.closer == nil {
		return nil
	}
	err := p.closer.Close()
	p.closer = nil
	return err
}
