package psfs

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	edatHeaderSize   = 0x100
	edatMaxBlockSize = 0x8000
)

var edatMagic = []byte("NPD\x00")

type LicenceType uint32

const (
	LicenceNetwork LicenceType = 0x1
	LicenceLocal   LicenceType = 0x2
	LicenceFree    LicenceType = 0x3
)

func (l LicenceType) String() string {
	switch l {
	case LicenceNetwork:
		return "NETWORK"
	case LicenceLocal:
		return "LOCAL"
	case LicenceFree:
		return "FREE"
	}
	return fmt.Sprintf("LicenceType(%d)", uint32(l))
}

type ApplicationType uint32

const (
	ApplicationModule           ApplicationType = 0x00
	ApplicationExecutable       ApplicationType = 0x01
	ApplicationModuleUpdate     ApplicationType = 0x20
	ApplicationExecutableUpdate ApplicationType = 0x21
)

func (a ApplicationType) String() string {
	switch a {
	case ApplicationModule:
		return "MODULE"
	case ApplicationExecutable:
		return "EXECUTABLE"
	case ApplicationModuleUpdate:
		return "MODULE_UPDATE"
	case ApplicationExecutableUpdate:
		return "EXECUTABLE_UPDATE"
	}
	return fmt.Sprintf("ApplicationType(0x%X)", uint32(a))
}

type NpdType uint8

func (n NpdType) String() string {
	return fmt.Sprintf("NpdType(0x%02X)", uint8(n))
}

type EdatMetadataType uint32

const (
	EdatMetadataDefault             EdatMetadataType = 0x00
	EdatMetadataCompressed          EdatMetadataType = 0x01
	EdatMetadataPlaintext           EdatMetadataType = 0x02
	EdatMetadataCompressedPlaintext EdatMetadataType = 0x03
	EdatMetadataUnknown             EdatMetadataType = 0x0C
	EdatMetadataCompressedData      EdatMetadataType = 0x0D
	EdatMetadataDataMisc            EdatMetadataType = 0x3C
)

// edatMetadataAliases maps the extra raw values of multi valued types.
var edatMetadataAliases = map[uint32]EdatMetadataType{
	0x05: EdatMetadataCompressed,
	0x06: EdatMetadataPlaintext,
	0x07: EdatMetadataCompressedPlaintext,
}

var edatMetadataNames = map[EdatMetadataType]string{
	EdatMetadataDefault:             "DEFAULT",
	EdatMetadataCompressed:          "COMPRESSED",
	EdatMetadataPlaintext:           "PLAINTEXT",
	EdatMetadataCompressedPlaintext: "COMPRESSED_PLAINTEXT",
	EdatMetadataUnknown:             "UNKNOWN",
	EdatMetadataCompressedData:      "COMPRESSED_DATA",
	EdatMetadataDataMisc:            "DATA_MISC",
}

func (m EdatMetadataType) String() string {
	if name, ok := edatMetadataNames[m]; ok {
		return name
	}
	return fmt.Sprintf("EdatMetadataType(0x%X)", uint32(m))
}

func parseEdatMetadataType(raw uint32) (EdatMetadataType, error) {
	if m, ok := edatMetadataAliases[raw]; ok {
		return m, nil
	}
	if _, ok := edatMetadataNames[EdatMetadataType(raw)]; ok {
		return EdatMetadataType(raw), nil
	}
	return 0, newError(UnknownVariant, "edat metadata type", nil, raw)
}

type EdatHeader struct {
	Version         uint32
	LicenceType     LicenceType
	ApplicationType ApplicationType
	ContentID       string
	QADigest        []byte
	// CIDFNHash and HeaderHash are AES-CMAC values, kept but not checked.
	CIDFNHash            []byte
	HeaderHash           []byte
	ActivationTime       []byte
	DeactivationTime     []byte
	NpdType              NpdType
	MetadataType         EdatMetadataType
	MetadataTypeRaw      uint32
	BlockSize            uint32
	DataSize             uint64
	MetadataSectionsHash []byte
	ExtendedHeaderHash   []byte
	ECDSAMetadataSig     []byte
	ECDSAHeaderSig       []byte
}

type Edat struct {
	Path   string
	Size   int64
	Header *EdatHeader
}

func OpenEdat(filePath string) (*Edat, error) {
	file, reader, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	header, err := parseHeader(reader, "EDAT", edatMagic, readEdatHeaderFields)
	if err != nil {
		return nil, fmt.Errorf("failed to open edat %v: %w", filePath, err)
	}
	return &Edat{Path: filePath, Size: file.Size(), Header: header}, nil
}

func NewEdat(r io.ReadSeeker, size int64) (*Edat, error) {
	if size == 0 {
		return nil, newError(EmptyInput, "edat", nil, nil)
	}
	if size < edatHeaderSize {
		return nil, newError(TruncatedInput, "edat header", edatHeaderSize, size)
	}
	header, err := parseHeader(NewReader(r), "EDAT", edatMagic, readEdatHeaderFields)
	if err != nil {
		return nil, err
	}
	return &Edat{Size: size, Header: header}, nil
}

func readEdatHeaderFields(r *Reader, h *EdatHeader) error {
	var err error
	if h.Version, err = r.ReadU32(bigEndian); err != nil {
		return err
	}
	licence, err := r.ReadU32(bigEndian)
	if err != nil {
		return err
	}
	h.LicenceType = LicenceType(licence)
	if h.LicenceType < LicenceNetwork || h.LicenceType > LicenceFree {
		return newError(UnknownVariant, "edat licence type", "1-3", licence)
	}
	application, err := r.ReadU32(bigEndian)
	if err != nil {
		return err
	}
	h.ApplicationType = ApplicationType(application)
	switch h.ApplicationType {
	case ApplicationModule, ApplicationExecutable, ApplicationModuleUpdate, ApplicationExecutableUpdate:
	default:
		return newError(UnknownVariant, "edat application type", nil, application)
	}
	contentID, err := r.ReadFixedString(0x30, nil)
	if err != nil {
		return err
	}
	h.ContentID = strings.TrimRight(contentID, "\x00")

	for _, dst := range []*[]byte{&h.QADigest, &h.CIDFNHash, &h.HeaderHash} {
		if *dst, err = r.ReadBytes(0x10); err != nil {
			return err
		}
	}
	if h.ActivationTime, err = r.ReadBytes(0x08); err != nil {
		return err
	}
	if h.DeactivationTime, err = r.ReadBytes(0x08); err != nil {
		return err
	}

	npdType, err := r.ReadU8()
	if err != nil {
		return err
	}
	h.NpdType = NpdType(npdType)
	metadata, err := r.ReadBytes(3)
	if err != nil {
		return err
	}
	h.MetadataTypeRaw = uint32(metadata[0])<<16 | uint32(metadata[1])<<8 | uint32(metadata[2])
	if h.MetadataType, err = parseEdatMetadataType(h.MetadataTypeRaw); err != nil {
		return err
	}

	if h.BlockSize, err = r.ReadU32(bigEndian); err != nil {
		return err
	}
	if h.BlockSize > edatMaxBlockSize {
		return newError(SizeConstraintViolation, "edat block size", fmt.Sprintf("<= 0x%X", edatMaxBlockSize), h.BlockSize)
	}
	if h.DataSize, err = r.ReadU64(bigEndian); err != nil {
		return err
	}
	if h.MetadataSectionsHash, err = r.ReadBytes(0x10); err != nil {
		return err
	}
	if h.ExtendedHeaderHash, err = r.ReadBytes(0x10); err != nil {
		return err
	}
	if h.ECDSAMetadataSig, err = r.ReadBytes(0x28); err != nil {
		return err
	}
	if h.ECDSAHeaderSig, err = r.ReadBytes(0x28); err != nil {
		return err
	}
	zap.S().Debugf("EDAT version %v, licence %v, application %v, content id %v, metadata %v, block size %v, data size %v",
		h.Version, h.LicenceType, h.ApplicationType, h.ContentID, h.MetadataType, h.BlockSize, h.DataSize)
	return nil
}
