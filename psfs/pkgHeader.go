package psfs

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	pkgHeaderSize    = 0xC0
	pkgExtHeaderSize = 0x40
	pkgHashedSize    = 0x80
)

var (
	pkgMagic    = []byte{0x7F, 'P', 'K', 'G'}
	pkgExtMagic = []byte{0x7F, 'e', 'x', 't'}
)

type PkgRevision uint16

const (
	PkgRevisionDebug  PkgRevision = 0x0000
	PkgRevisionRetail PkgRevision = 0x8000
)

func (r PkgRevision) String() string {
	switch r {
	case PkgRevisionDebug:
		return "DEBUG"
	case PkgRevisionRetail:
		return "RETAIL"
	}
	return fmt.Sprintf("PkgRevision(0x%04X)", uint16(r))
}

type PkgType uint16

const (
	PkgTypePS3       PkgType = 0x0001
	PkgTypePSPPSVita PkgType = 0x0002
)

func (t PkgType) String() string {
	switch t {
	case PkgTypePS3:
		return "PS3"
	case PkgTypePSPPSVita:
		return "PSP_PSVITA"
	}
	return fmt.Sprintf("PkgType(0x%04X)", uint16(t))
}

type PkgHeader struct {
	Revision             PkgRevision
	Type                 PkgType
	MetadataOffset       uint32
	MetadataCount        uint32
	MetadataSize         uint32
	ItemCount            uint32
	TotalSize            uint64
	DataOffset           uint64
	DataSize             uint64
	ContentID            string
	Digest               [0x10]byte
	PkgDataRiv           [0x10]byte
	HeaderCmacHash       [0x10]byte
	HeaderNpdrmSignature [0x28]byte
	HeaderSha1Hash       [0x8]byte
	ExtHeader            *PkgExtHeader

	// first 0x80 bytes, covered by HeaderSha1Hash
	hashed []byte
}

type PkgExtHeader struct {
	HeaderSize                  uint32
	DataSize                    uint32
	MainAndExtHeadersHmacOffset uint32
	MetadataHeaderHmacOffset    uint32
	TailOffset                  uint64
	PkgKeyID                    uint32
	FullHeaderHmacOffset        uint32
}

// KeyType selects the PSP/PSVita data key.
func (e *PkgExtHeader) KeyType() uint32 {
	return e.PkgKeyID & 7
}

func readPkgHeader(r *Reader) (*PkgHeader, error) {
	if _, err := r.Seek(0, 0); err != nil {
		return nil, err
	}
	header, err := parseHeader(r, "PKG", pkgMagic, readPkgHeaderFields)
	if err != nil {
		return nil, err
	}

	if _, err := r.Seek(0, 0); err != nil {
		return nil, err
	}
	header.hashed, err = r.ReadBytes(pkgHashedSize)
	if err != nil {
		return nil, err
	}

	if header.Type == PkgTypePSPPSVita {
		if _, err := r.Seek(pkgHeaderSize, 0); err != nil {
			return nil, err
		}
		header.ExtHeader, err = parseHeader(r, "PKG ext", pkgExtMagic, readPkgExtHeaderFields)
		if err != nil {
			return nil, err
		}
	}
	return header, nil
}

func readPkgHeaderFields(r *Reader, h *PkgHeader) error {
	be := binary.BigEndian
	revision, err := r.ReadU16(be)
	if err != nil {
		return err
	}
	h.Revision = PkgRevision(revision)
	if h.Revision != PkgRevisionDebug && h.Revision != PkgRevisionRetail {
		return newError(UnknownVariant, "revision", "0x0000 or 0x8000", revision)
	}

	pkgType, err := r.ReadU16(be)
	if err != nil {
		return err
	}
	h.Type = PkgType(pkgType)
	if h.Type != PkgTypePS3 && h.Type != PkgTypePSPPSVita {
		return newError(UnknownVariant, "type", "0x0001 or 0x0002", pkgType)
	}

	for _, v := range []*uint32{&h.MetadataOffset, &h.MetadataCount, &h.MetadataSize, &h.ItemCount} {
		if *v, err = r.ReadU32(be); err != nil {
			return err
		}
	}
	for _, v := range []*uint64{&h.TotalSize, &h.DataOffset, &h.DataSize} {
		if *v, err = r.ReadU64(be); err != nil {
			return err
		}
	}

	contentID, err := r.ReadBytes(0x24)
	if err != nil {
		return err
	}
	h.ContentID = strings.TrimRight(string(contentID), "\x00")

	padding, err := r.ReadBytes(0x0C)
	if err != nil {
		return err
	}
	if err := zeroCheck("content id padding", padding); err != nil {
		return err
	}

	for _, dst := range [][]byte{h.Digest[:], h.PkgDataRiv[:], h.HeaderCmacHash[:], h.HeaderNpdrmSignature[:], h.HeaderSha1Hash[:]} {
		b, err := r.ReadBytes(len(dst))
		if err != nil {
			return err
		}
		copy(dst, b)
	}

	zap.S().Debugf("PKG revision: %v, type: %v, content id: %v", h.Revision, h.Type, h.ContentID)
	zap.S().Debugf("PKG metadata offset: 0x%X, count: %v, size: 0x%X", h.MetadataOffset, h.MetadataCount, h.MetadataSize)
	zap.S().Debugf("PKG items: %v, total size: %v, data offset: 0x%X, data size: %v", h.ItemCount, h.TotalSize, h.DataOffset, h.DataSize)
	return nil
}

func readPkgExtHeaderFields(r *Reader, e *PkgExtHeader) error {
	be := binary.BigEndian
	unknown1, err := r.ReadU32(be)
	if err != nil {
		return err
	}
	if err := constantCheck("ext header unknown 1", uint64(unknown1), 1); err != nil {
		return err
	}
	for _, v := range []*uint32{&e.HeaderSize, &e.DataSize, &e.MainAndExtHeadersHmacOffset, &e.MetadataHeaderHmacOffset} {
		if *v, err = r.ReadU32(be); err != nil {
			return err
		}
	}
	if e.TailOffset, err = r.ReadU64(be); err != nil {
		return err
	}
	padding, err := r.ReadU32(be)
	if err != nil {
		return err
	}
	if err := constantCheck("ext header padding", uint64(padding), 0); err != nil {
		return err
	}
	if e.PkgKeyID, err = r.ReadU32(be); err != nil {
		return err
	}
	if e.FullHeaderHmacOffset, err = r.ReadU32(be); err != nil {
		return err
	}
	padding2, err := r.ReadBytes(0x14)
	if err != nil {
		return err
	}
	if err := zeroCheck("ext header padding 2", padding2); err != nil {
		return err
	}
	zap.S().Debugf("PKG ext header key id: 0x%X, header size: 0x%X", e.PkgKeyID, e.HeaderSize)
	return nil
}

// VerifyHeaderHash checks the low 8 bytes of SHA-1 over the first 0x80
// bytes. DEBUG packages are exempt.
func (h *PkgHeader) VerifyHeaderHash() error {
	if h.Revision == PkgRevisionDebug {
		zap.S().Debugf("PKG header hash check skipped for DEBUG revision")
		return nil
	}
	sum := sha1.Sum(h.hashed)
	if string(sum[len(sum)-8:]) != string(h.HeaderSha1Hash[:]) {
		return newError(ChecksumMismatch, "header sha1", h.HeaderSha1Hash[:], sum[len(sum)-8:])
	}
	zap.S().Infof("Header SHA1 Hash Verified!")
	return nil
}
