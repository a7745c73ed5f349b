package psfs

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"go.uber.org/zap"
)

const (
	pfdTableSize         = 0x40
	pfdProtectedFileSize = 272
	pfdXEntrySize        = 8
	pfdYEntrySize        = 20
	pfdTailPadding       = 44
)

var pfdMagic = []byte("\x00\x00\x00\x00PFDB")

type PfdHeader struct {
	Version        uint64
	TableIV        []byte
	TableEncrypted []byte
	TableDecrypted []byte

	YTableHMAC  []byte
	XTableHMAC  []byte
	FileHMACKey []byte
	// RealKey is FileHMACKey for version 3 and derived from it for version 4.
	RealKey []byte

	XYTablesReserved       uint64
	ProtectedFilesReserved uint64
	ProtectedFilesUsed     uint64
}

type PfdProtectedFile struct {
	VirtualIndex uint64
	Name         string
	Key          []byte
	Hashes       [4][]byte
	FileSize     uint64
}

type Pfd struct {
	Path           string
	Header         *PfdHeader
	XTable         [][]byte
	ProtectedFiles []*PfdProtectedFile
	YTable         [][]byte
}

func OpenPfd(filePath string, keys *KeyRing) (*Pfd, error) {
	file, reader, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	pfd, err := readPfd(reader, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to open pfd %v: %w", filePath, err)
	}
	pfd.Path = filePath
	return pfd, nil
}

func NewPfd(data []byte, keys *KeyRing) (*Pfd, error) {
	if len(data) == 0 {
		return nil, newError(EmptyInput, "pfd", nil, nil)
	}
	return readPfd(NewReader(bytes.NewReader(data)), keys)
}

func readPfd(r *Reader, keys *KeyRing) (*Pfd, error) {
	if keys == nil {
		keys = DefaultKeyRing()
	}
	header, err := parseHeader(r, "PFD", pfdMagic, func(r *Reader, h *PfdHeader) error {
		return readPfdHeaderFields(r, h, keys)
	})
	if err != nil {
		return nil, err
	}
	pfd := &Pfd{Header: header}

	for i := uint64(0); i < header.XYTablesReserved; i++ {
		entry, err := r.ReadBytes(pfdXEntrySize)
		if err != nil {
			return nil, fmt.Errorf("x table #%v: %w", i, err)
		}
		pfd.XTable = append(pfd.XTable, entry)
	}
	zap.S().Debugf("PFD X table: %v entries", len(pfd.XTable))

	for i := uint64(0); i < header.ProtectedFilesReserved; i++ {
		record, err := r.ReadBytes(pfdProtectedFileSize)
		if err != nil {
			return nil, fmt.Errorf("protected file #%v: %w", i, err)
		}
		if i >= header.ProtectedFilesUsed {
			if err := zeroCheck(fmt.Sprintf("protected file #%v (empty)", i), record); err != nil {
				return nil, err
			}
			continue
		}
		entry, err := parsePfdProtectedFile(record)
		if err != nil {
			return nil, fmt.Errorf("protected file #%v: %w", i, err)
		}
		zap.S().Infof("Protected file #%v: %v (%v bytes)", i, entry.Name, entry.FileSize)
		pfd.ProtectedFiles = append(pfd.ProtectedFiles, entry)
	}

	for i := uint64(0); i < header.XYTablesReserved; i++ {
		entry, err := r.ReadBytes(pfdYEntrySize)
		if err != nil {
			return nil, fmt.Errorf("y table #%v: %w", i, err)
		}
		pfd.YTable = append(pfd.YTable, entry)
	}

	padding, err := r.ReadBytes(pfdTailPadding)
	if err != nil {
		return nil, fmt.Errorf("pfd padding: %w", err)
	}
	if err := zeroCheck("pfd padding", padding); err != nil {
		return nil, err
	}
	return pfd, nil
}

func readPfdHeaderFields(r *Reader, h *PfdHeader, keys *KeyRing) error {
	var err error
	if h.Version, err = r.ReadU64(bigEndian); err != nil {
		return err
	}
	if h.Version != 3 && h.Version != 4 {
		return newError(UnknownVariant, "pfd version", "3|4", h.Version)
	}
	if h.TableIV, err = r.ReadBytes(pscrypto.BlockSize); err != nil {
		return err
	}
	if h.TableEncrypted, err = r.ReadBytes(pfdTableSize); err != nil {
		return err
	}

	managerKey, err := keys.requireKey(PfdSysconManagerKeyName)
	if err != nil {
		return err
	}
	cbc, err := pscrypto.NewCBCReader(bytes.NewReader(h.TableEncrypted), managerKey, h.TableIV)
	if err != nil {
		return err
	}
	h.TableDecrypted = make([]byte, pfdTableSize)
	if _, err := io.ReadFull(cbc, h.TableDecrypted); err != nil {
		return err
	}
	h.YTableHMAC = h.TableDecrypted[0:20]
	h.XTableHMAC = h.TableDecrypted[20:40]
	h.FileHMACKey = h.TableDecrypted[40:60]

	if h.Version == 3 {
		h.RealKey = h.FileHMACKey
	} else {
		keygen, err := keys.requireKey(PfdKeygenKeyName)
		if err != nil {
			return err
		}
		h.RealKey = pscrypto.HmacSha256(keygen, h.FileHMACKey)
	}
	zap.S().Debugf("PFD version %v, real key %X", h.Version, h.RealKey)

	for _, dst := range []*uint64{&h.XYTablesReserved, &h.ProtectedFilesReserved, &h.ProtectedFilesUsed} {
		if *dst, err = r.ReadU64(bigEndian); err != nil {
			return err
		}
	}
	if h.ProtectedFilesUsed > h.ProtectedFilesReserved {
		return newError(SizeConstraintViolation, "pfd protected files used", h.ProtectedFilesReserved, h.ProtectedFilesUsed)
	}
	zap.S().Debugf("PFD XY reserved %v, protected files %v/%v", h.XYTablesReserved, h.ProtectedFilesUsed, h.ProtectedFilesReserved)
	return nil
}

func parsePfdProtectedFile(record []byte) (*PfdProtectedFile, error) {
	rawName := record[8:73]
	if end := bytes.IndexByte(rawName, 0x0); end >= 0 {
		rawName = rawName[:end]
	}
	name, err := decodeString(rawName, nil)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	f := &PfdProtectedFile{
		VirtualIndex: bigEndian.Uint64(record[0:8]),
		Name:         strings.TrimSpace(name),
		Key:          record[80:144],
		FileSize:     bigEndian.Uint64(record[264:272]),
	}
	for i := range f.Hashes {
		start := 144 + i*20
		f.Hashes[i] = record[start : start+20]
	}
	return f, nil
}

// ProtectedFile finds a used entry by name.
func (p *Pfd) ProtectedFile(name string) *PfdProtectedFile {
	for _, f := range p.ProtectedFiles {
		if f.Name == name {
			return f
		}
	}
	return nil
}
