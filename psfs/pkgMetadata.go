package psfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type PkgMetadata struct {
	ID    uint32
	Name  string
	Data  []byte
	Value MetadataValue
}

// MetadataValue is the decoded payload of one metadata record. The set of
// implementations is closed.
type MetadataValue interface {
	metadataValue()
}

type DrmTypeInfo struct{ DrmType DrmType }
type ContentTypeInfo struct{ ContentType ContentType }
type PackageTypeInfo struct{ Flags uint32 }
type PackageSizeInfo struct{ Size uint64 }

type PackageVersionInfo struct {
	MakePackageNpdrmRevision uint16
	PackageVersion           string
}

type TitleIDInfo struct{ TitleID string }
type QADigestInfo struct{ Digest []byte }

type VersionInfo struct {
	Unknown        uint8
	SystemVersion  string
	PackageVersion string
	AppVersion     string
}

type InstallDirectoryInfo struct{ Directory string }
type RawInfo struct{ Data []byte }

type IndexTableInfo struct {
	Offset uint32
	Size   uint32
	Sha256 []byte
}

type SfoInfo struct {
	Offset             uint32
	Size               uint32
	Flags              uint32
	PSP2DisplayVersion uint32
	Unknown            []byte
	Sha256             []byte
}

type UnknownDataInfo struct {
	Offset  uint32
	Size    uint32
	Unknown []byte
	Sha256  []byte
}

type EntiretyInfo struct {
	Offset   uint32
	Size     uint32
	Flags    uint16
	Unknown1 uint32
	Unknown2 uint32
	Unknown3 []byte
	Sha256   []byte
}

type PublishingToolsInfo struct {
	PublishingToolsVersion uint32
	PFSBuilderVersion      uint32
}

type SelfInfo struct {
	Offset  uint32
	Size    uint32
	Unknown uint32
	Extra   []byte
	Sha256  []byte
}

func (DrmTypeInfo) metadataValue()          {}
func (ContentTypeInfo) metadataValue()      {}
func (PackageTypeInfo) metadataValue()      {}
func (PackageSizeInfo) metadataValue()      {}
func (PackageVersionInfo) metadataValue()   {}
func (TitleIDInfo) metadataValue()          {}
func (QADigestInfo) metadataValue()         {}
func (VersionInfo) metadataValue()          {}
func (InstallDirectoryInfo) metadataValue() {}
func (RawInfo) metadataValue()              {}
func (IndexTableInfo) metadataValue()       {}
func (SfoInfo) metadataValue()              {}
func (UnknownDataInfo) metadataValue()      {}
func (EntiretyInfo) metadataValue()         {}
func (PublishingToolsInfo) metadataValue()  {}
func (SelfInfo) metadataValue()             {}

type metadataLayout struct {
	name   string
	sizes  []uint32
	values [][]byte
	decode func(data []byte) (MetadataValue, error)
}

func u32Values(values ...uint32) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		out = append(out, b)
	}
	return out
}

func u32Range(from, to uint32) []uint32 {
	var out []uint32
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func hexVersion(b ...byte) string {
	var sb strings.Builder
	for _, x := range b {
		fmt.Fprintf(&sb, "%02x", x)
	}
	return sb.String()
}

func trimmedString(data []byte) string {
	return strings.TrimRight(string(data), "\x00")
}

var metadataLayouts = map[uint32]metadataLayout{
	0x01: {
		name: "DRM Type", sizes: []uint32{0x04}, values: u32Values(u32Range(0, 0xF)...),
		decode: func(d []byte) (MetadataValue, error) { return DrmTypeInfo{DrmType(bigEndian.Uint32(d))}, nil },
	},
	0x02: {
		name: "Content Type", sizes: []uint32{0x04}, values: u32Values(append(u32Range(0, 0x1A), 0x1D, 0x1F)...),
		decode: func(d []byte) (MetadataValue, error) { return ContentTypeInfo{ContentType(bigEndian.Uint32(d))}, nil },
	},
	0x03: {
		name: "Package Type/Flags", sizes: []uint32{0x04},
		decode: func(d []byte) (MetadataValue, error) { return PackageTypeInfo{bigEndian.Uint32(d)}, nil },
	},
	0x04: {
		name: "Package Size", sizes: []uint32{0x08},
		decode: func(d []byte) (MetadataValue, error) { return PackageSizeInfo{bigEndian.Uint64(d)}, nil },
	},
	0x05: {
		name: "make_package_npdrm Revision + Package Version", sizes: []uint32{0x04},
		decode: func(d []byte) (MetadataValue, error) {
			return PackageVersionInfo{
				MakePackageNpdrmRevision: bigEndian.Uint16(d[0:2]),
				PackageVersion:           hexVersion(d[2]) + "." + hexVersion(d[3]),
			}, nil
		},
	},
	0x06: {
		name: "Title ID", sizes: []uint32{0x0C},
		decode: func(d []byte) (MetadataValue, error) { return TitleIDInfo{trimmedString(d)}, nil },
	},
	0x07: {
		name: "QA Digest", sizes: []uint32{0x18},
		decode: func(d []byte) (MetadataValue, error) { return QADigestInfo{d}, nil },
	},
	0x08: {
		name: "Version Info", sizes: []uint32{0x08},
		decode: func(d []byte) (MetadataValue, error) {
			return VersionInfo{
				Unknown:        d[0],
				SystemVersion:  hexVersion(d[1]) + "." + hexVersion(d[2], d[3]),
				PackageVersion: hexVersion(d[4]) + "." + hexVersion(d[5]),
				AppVersion:     hexVersion(d[6]) + "." + hexVersion(d[7]),
			}, nil
		},
	},
	0x09: {
		name: "Unknown", sizes: []uint32{0x08},
		values: [][]byte{
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x24, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x25, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00},
			{0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00, 0x00},
		},
		decode: rawMetadata,
	},
	0x0A: {
		name: "Install Directory", sizes: []uint32{0x28},
		decode: func(d []byte) (MetadataValue, error) {
			dir, err := decodeString(bytes.TrimRight(d, "\x00"), nil)
			if err != nil {
				return nil, err
			}
			return InstallDirectoryInfo{dir}, nil
		},
	},
	0x0B: {name: "Unknown (seen in PSP cumulative patch)", sizes: []uint32{0x08}, decode: rawMetadata},
	0x0C: {name: "Unknown", decode: rawMetadata},
	0x0D: {
		name: "Index Table Info", sizes: []uint32{0x28},
		decode: func(d []byte) (MetadataValue, error) {
			return IndexTableInfo{Offset: bigEndian.Uint32(d[0:4]), Size: bigEndian.Uint32(d[4:8]), Sha256: d[0x08:0x28]}, nil
		},
	},
	0x0E: {
		name: "PARAM.SFO Info", sizes: []uint32{0x38},
		decode: func(d []byte) (MetadataValue, error) {
			return SfoInfo{
				Offset:             bigEndian.Uint32(d[0x00:0x04]),
				Size:               bigEndian.Uint32(d[0x04:0x08]),
				Flags:              bigEndian.Uint32(d[0x08:0x0C]),
				PSP2DisplayVersion: bigEndian.Uint32(d[0x0C:0x10]),
				Unknown:            d[0x10:0x18],
				Sha256:             d[0x18:0x38],
			}, nil
		},
	},
	0x0F: {
		name: "Unknown Data Info", sizes: []uint32{0x48},
		decode: func(d []byte) (MetadataValue, error) {
			return UnknownDataInfo{Offset: bigEndian.Uint32(d[0:4]), Size: bigEndian.Uint32(d[4:8]), Unknown: d[0x08:0x28], Sha256: d[0x28:0x48]}, nil
		},
	},
	0x10: {
		name: "Entirety Info", sizes: []uint32{0x38},
		decode: func(d []byte) (MetadataValue, error) {
			info := EntiretyInfo{
				Offset:   bigEndian.Uint32(d[0x00:0x04]),
				Size:     bigEndian.Uint32(d[0x04:0x08]),
				Flags:    bigEndian.Uint16(d[0x08:0x0A]),
				Unknown1: bigEndian.Uint32(d[0x0A:0x0E]),
				Unknown2: bigEndian.Uint32(d[0x0E:0x12]),
				Unknown3: d[0x12:0x18],
				Sha256:   d[0x18:0x38],
			}
			if err := constantCheck("entirety info unknown 1", uint64(info.Unknown1), 0); err != nil {
				return nil, err
			}
			return info, nil
		},
	},
	0x11: {
		name: "Publishing Tools", sizes: []uint32{0x28},
		decode: func(d []byte) (MetadataValue, error) {
			if err := zeroCheck("publishing tools padding", d[0x08:0x28]); err != nil {
				return nil, err
			}
			return PublishingToolsInfo{PublishingToolsVersion: bigEndian.Uint32(d[0:4]), PFSBuilderVersion: bigEndian.Uint32(d[4:8])}, nil
		},
	},
	0x12: {
		name: "SELF Info", sizes: []uint32{0x38},
		decode: func(d []byte) (MetadataValue, error) {
			return SelfInfo{
				Offset:  bigEndian.Uint32(d[0x00:0x04]),
				Size:    bigEndian.Uint32(d[0x04:0x08]),
				Unknown: bigEndian.Uint32(d[0x08:0x0C]),
				Extra:   d[0x0C:0x18],
				Sha256:  d[0x18:0x38],
			}, nil
		},
	},
}

func rawMetadata(d []byte) (MetadataValue, error) {
	return RawInfo{d}, nil
}

// readPkgMetadata peeks the id, rewinds and lets the matching layout consume
// the whole record.
func readPkgMetadata(r *Reader) (*PkgMetadata, error) {
	id, err := r.ReadU32(binary.BigEndian)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(-4, 1); err != nil {
		return nil, err
	}
	layout, ok := metadataLayouts[id]
	if !ok {
		return nil, newError(UnknownVariant, "unknown metadata tag", nil, fmt.Sprintf("0x%X", id))
	}
	return layout.read(id, r)
}

func (s metadataLayout) read(id uint32, r *Reader) (*PkgMetadata, error) {
	if _, err := r.ReadU32(binary.BigEndian); err != nil {
		return nil, err
	}
	size, err := r.ReadU32(binary.BigEndian)
	if err != nil {
		return nil, err
	}
	if len(s.sizes) > 0 && !containsU32(s.sizes, size) {
		return nil, newError(SizeConstraintViolation, s.name, s.sizes, size)
	}
	data, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	if len(s.values) > 0 && !containsBytes(s.values, data) {
		return nil, newError(ConstantViolation, s.name, nil, data)
	}
	value, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	zap.S().Debugf("Metadata 0x%02X (%v): %X", id, s.name, data)
	return &PkgMetadata{ID: id, Name: s.name, Data: data, Value: value}, nil
}

func containsU32(set []uint32, v uint32) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func containsBytes(set [][]byte, v []byte) bool {
	for _, x := range set {
		if bytes.Equal(x, v) {
			return true
		}
	}
	return false
}
