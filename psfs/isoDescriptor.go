package psfs

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

const (
	isoSectorSize         = 2048
	isoFirstDescriptor    = 16
	isoStandardIdentifier = "CD001"
	fileIdentifierMarker  = 0x5F
)

var ucs2 = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

var jolietEscapes = [][]byte{[]byte("%/@"), []byte("%/C"), []byte("%/E")}

type DescriptorType uint8

const (
	DescriptorBootRecord    DescriptorType = 0x00
	DescriptorPrimary       DescriptorType = 0x01
	DescriptorSupplementary DescriptorType = 0x02
	DescriptorPartition     DescriptorType = 0x03
	DescriptorTerminator    DescriptorType = 0xFF
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorBootRecord:
		return "BOOT_RECORD"
	case DescriptorPrimary:
		return "PRIMARY"
	case DescriptorSupplementary:
		return "SUPPLEMENTARY"
	case DescriptorPartition:
		return "PARTITION"
	case DescriptorTerminator:
		return "TERMINATOR"
	}
	return fmt.Sprintf("DescriptorType(0x%02X)", uint8(t))
}

// VolumeDescriptor is one of BootRecordDescriptor, PrimaryVolumeDescriptor,
// PartitionVolumeDescriptor or TerminatorDescriptor.
type VolumeDescriptor interface {
	Base() *BaseVolumeDescriptor
}

type BaseVolumeDescriptor struct {
	Type               DescriptorType
	StandardIdentifier string
	Version            uint8
}

func (b *BaseVolumeDescriptor) Base() *BaseVolumeDescriptor {
	return b
}

type BootRecordDescriptor struct {
	BaseVolumeDescriptor
	BootSystemIdentifier string
	BootIdentifier       string
	SystemUse            []byte
}

// PrimaryVolumeDescriptor also carries supplementary descriptors, which
// share the layout. Joliet is set for UCS-2 supplementary descriptors.
type PrimaryVolumeDescriptor struct {
	BaseVolumeDescriptor
	VolumeFlags                 uint8
	SystemIdentifier            string
	VolumeIdentifier            string
	VolumeSpaceSize             uint32
	EscapeSequences             []byte
	Joliet                      bool
	VolumeSetSize               uint16
	VolumeSequenceNumber        uint16
	LogicalBlockSize            uint16
	PathTableSize               uint32
	LPathTableLocation          uint32
	OptionalLPathTableLocation  uint32
	MPathTableLocation          uint32
	OptionalMPathTableLocation  uint32
	RootDirectoryRecord         *DirectoryRecord
	VolumeSetIdentifier         string
	PublisherIdentifier         string
	DataPreparerIdentifier      string
	ApplicationIdentifier       string
	CopyrightFileIdentifier     string
	AbstractFileIdentifier      string
	BibliographicFileIdentifier string
	VolumeCreation              *time.Time
	VolumeModification          *time.Time
	VolumeExpiration            *time.Time
	VolumeEffective             *time.Time
	FileStructureVersion        uint8
	ApplicationUsed             []byte
}

type PartitionVolumeDescriptor struct {
	BaseVolumeDescriptor
	SystemIdentifier    string
	PartitionIdentifier string
	PartitionLocation   uint32
	PartitionSize       uint32
	SystemUse           []byte
}

type TerminatorDescriptor struct {
	BaseVolumeDescriptor
}

var descriptorParsers = map[DescriptorType]func(base BaseVolumeDescriptor, sector []byte) (VolumeDescriptor, error){
	DescriptorBootRecord:    parseBootRecord,
	DescriptorPrimary:       parseVolumeDescriptor,
	DescriptorSupplementary: parseVolumeDescriptor,
	DescriptorPartition:     parsePartitionDescriptor,
	DescriptorTerminator: func(base BaseVolumeDescriptor, _ []byte) (VolumeDescriptor, error) {
		return &TerminatorDescriptor{base}, nil
	},
}

func parseBaseDescriptor(sector []byte) BaseVolumeDescriptor {
	return BaseVolumeDescriptor{
		Type:               DescriptorType(sector[0]),
		StandardIdentifier: string(sector[1:6]),
		Version:            sector[6],
	}
}

// parseDescriptor dispatches a 2048 byte sector on its type byte.
func parseDescriptor(sector []byte) (VolumeDescriptor, error) {
	if len(sector) < isoSectorSize {
		return nil, newError(TruncatedInput, "volume descriptor", isoSectorSize, len(sector))
	}
	base := parseBaseDescriptor(sector)
	parser, ok := descriptorParsers[base.Type]
	if !ok {
		return nil, newError(UnknownVariant, "descriptor type", nil, base.Type)
	}
	return parser(base, sector)
}

func parseBootRecord(base BaseVolumeDescriptor, s []byte) (VolumeDescriptor, error) {
	d := &BootRecordDescriptor{BaseVolumeDescriptor: base, SystemUse: s[71:isoSectorSize]}
	var err error
	if d.BootSystemIdentifier, err = UnpackStrA(bytes.TrimRight(s[7:39], "\x00")); err != nil {
		return nil, err
	}
	if d.BootIdentifier, err = UnpackStrA(bytes.TrimRight(s[39:71], "\x00")); err != nil {
		return nil, err
	}
	return d, nil
}

func parsePartitionDescriptor(base BaseVolumeDescriptor, s []byte) (VolumeDescriptor, error) {
	if err := constantCheck("partition unused", uint64(s[7]), 0); err != nil {
		return nil, err
	}
	d := &PartitionVolumeDescriptor{BaseVolumeDescriptor: base, SystemUse: s[88:isoSectorSize]}
	var err error
	if d.SystemIdentifier, err = UnpackStrA(s[8:40]); err != nil {
		return nil, err
	}
	if d.PartitionIdentifier, err = UnpackStrD(s[40:72]); err != nil {
		return nil, err
	}
	if d.PartitionLocation, err = UnpackBothEndianU32(s[72:80]); err != nil {
		return nil, err
	}
	if d.PartitionSize, err = UnpackBothEndianU32(s[80:88]); err != nil {
		return nil, err
	}
	return d, nil
}

func isJoliet(escapes []byte) bool {
	for _, e := range jolietEscapes {
		if bytes.HasPrefix(escapes, e) {
			return true
		}
	}
	return false
}

func parseVolumeDescriptor(base BaseVolumeDescriptor, s []byte) (VolumeDescriptor, error) {
	d := &PrimaryVolumeDescriptor{
		BaseVolumeDescriptor: base,
		VolumeFlags:          s[7],
		FileStructureVersion: s[881],
		ApplicationUsed:      s[883:1395],
	}
	var err error
	primary := base.Type == DescriptorPrimary
	if !primary {
		d.EscapeSequences = s[88:120]
		d.Joliet = isJoliet(d.EscapeSequences)
	}

	// string fields: system id and volume id
	if d.Joliet {
		if d.SystemIdentifier, err = decodeString(s[8:40], ucs2); err != nil {
			return nil, err
		}
		if d.VolumeIdentifier, err = decodeString(s[40:72], ucs2); err != nil {
			return nil, err
		}
		d.SystemIdentifier = strings.TrimRight(d.SystemIdentifier, " \x00")
		d.VolumeIdentifier = strings.TrimRight(d.VolumeIdentifier, " \x00")
	} else {
		if d.SystemIdentifier, err = UnpackStrA(s[8:40]); err != nil {
			return nil, err
		}
		if d.VolumeIdentifier, err = UnpackStrD(s[40:72]); err != nil {
			return nil, err
		}
	}

	if err := zeroCheck("volume unused 1", s[72:80]); err != nil {
		return nil, err
	}
	if d.VolumeSpaceSize, err = UnpackBothEndianU32(s[80:88]); err != nil {
		return nil, err
	}
	if primary {
		if err := zeroCheck("volume unused 2", s[88:120]); err != nil {
			return nil, err
		}
	}
	if d.VolumeSetSize, err = UnpackBothEndianU16(s[120:124]); err != nil {
		return nil, err
	}
	if d.VolumeSequenceNumber, err = UnpackBothEndianU16(s[124:128]); err != nil {
		return nil, err
	}
	if d.LogicalBlockSize, err = UnpackBothEndianU16(s[128:132]); err != nil {
		return nil, err
	}
	if d.PathTableSize, err = UnpackBothEndianU32(s[132:140]); err != nil {
		return nil, err
	}
	le, be := littleEndian, bigEndian
	d.LPathTableLocation = le.Uint32(s[140:144])
	d.OptionalLPathTableLocation = le.Uint32(s[144:148])
	d.MPathTableLocation = be.Uint32(s[148:152])
	d.OptionalMPathTableLocation = be.Uint32(s[152:156])

	if d.RootDirectoryRecord, err = parseDirectoryRecord(s[156:190], d.Joliet); err != nil {
		return nil, fmt.Errorf("root directory record: %w", err)
	}

	identifiers := []struct {
		dst  *string
		data []byte
	}{
		{&d.VolumeSetIdentifier, s[190:318]},
		{&d.PublisherIdentifier, s[318:446]},
		{&d.DataPreparerIdentifier, s[446:574]},
		{&d.ApplicationIdentifier, s[574:702]},
		{&d.CopyrightFileIdentifier, s[702:740]},
		{&d.AbstractFileIdentifier, s[740:776]},
		{&d.BibliographicFileIdentifier, s[776:813]},
	}
	for _, id := range identifiers {
		*id.dst = lenientIdentifier(id.data, d.Joliet)
	}

	dates := []struct {
		dst  **time.Time
		data []byte
	}{
		{&d.VolumeCreation, s[813:830]},
		{&d.VolumeModification, s[830:847]},
		{&d.VolumeExpiration, s[847:864]},
		{&d.VolumeEffective, s[864:881]},
	}
	for _, date := range dates {
		if *date.dst, err = parseVolumeDatetime(date.data); err != nil {
			return nil, err
		}
	}

	if err := constantCheck("file structure version", uint64(d.FileStructureVersion), 1); err != nil {
		return nil, err
	}
	if err := constantCheck("volume unused 3", uint64(s[882]), 0); err != nil {
		return nil, err
	}
	return d, nil
}

// lenientIdentifier decodes the long text identifiers. A leading 0x5F marks a
// file name in the root directory; the marker is kept so callers can tell.
func lenientIdentifier(data []byte, joliet bool) string {
	if joliet {
		if s, err := decodeString(data, ucs2); err == nil {
			return strings.TrimRight(s, " \x00")
		}
	}
	s := strings.TrimRight(string(data), " \x00")
	if len(data) > 0 && data[0] == fileIdentifierMarker {
		return s
	}
	if _, err := UnpackStrA([]byte(s)); err != nil {
		return strings.ToValidUTF8(s, "?")
	}
	return s
}

func (d *PrimaryVolumeDescriptor) IsSupplementary() bool {
	return d.Type == DescriptorSupplementary
}
