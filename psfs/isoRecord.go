package psfs

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type FileFlags uint8

const (
	FileFlagExistence   FileFlags = 1 << 0
	FileFlagDirectory   FileFlags = 1 << 1
	FileFlagAssociated  FileFlags = 1 << 2
	FileFlagRecord      FileFlags = 1 << 3
	FileFlagProtection  FileFlags = 1 << 4
	FileFlagMultiExtent FileFlags = 1 << 7
)

func (f FileFlags) Has(flag FileFlags) bool {
	return f&flag != 0
}

func (f FileFlags) String() string {
	var names []string
	for _, x := range []struct {
		flag FileFlags
		name string
	}{
		{FileFlagExistence, "EXISTENCE"},
		{FileFlagDirectory, "DIRECTORY"},
		{FileFlagAssociated, "ASSOCIATED_FILE"},
		{FileFlagRecord, "RECORD"},
		{FileFlagProtection, "PROTECTION"},
		{FileFlagMultiExtent, "MULTI_EXTENT"},
	} {
		if f.Has(x.flag) {
			names = append(names, x.name)
		}
	}
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

const directoryRecordMinSize = 33

type DirectoryRecord struct {
	Length                        uint8
	ExtendedAttributeRecordLength uint8
	LBALocation                   uint32
	DataLength                    uint32
	RecordingDatetime             *time.Time
	Flags                         FileFlags
	FileUnitSize                  uint8
	InterleaveGap                 uint8
	VolumeSequenceNumber          uint16
	Identifier                    string

	joliet bool
}

func (d *DirectoryRecord) IsDirectory() bool {
	return d.Flags.Has(FileFlagDirectory)
}

// parseDirectoryRecord decodes one record. Joliet records carry UCS-2
// identifiers, everything else is validated as a-characters.
func parseDirectoryRecord(data []byte, joliet bool) (*DirectoryRecord, error) {
	if len(data) < directoryRecordMinSize {
		return nil, newError(TruncatedInput, "directory record", directoryRecordMinSize, len(data))
	}
	var err error
	d := &DirectoryRecord{
		Length:                        data[0],
		ExtendedAttributeRecordLength: data[1],
		Flags:                         FileFlags(data[25]),
		FileUnitSize:                  data[26],
		InterleaveGap:                 data[27],
		joliet:                        joliet,
	}
	if d.LBALocation, err = UnpackBothEndianU32(data[2:10]); err != nil {
		return nil, err
	}
	if d.DataLength, err = UnpackBothEndianU32(data[10:18]); err != nil {
		return nil, err
	}
	if d.RecordingDatetime, err = parseDirectoryDatetime(data[18:25]); err != nil {
		return nil, err
	}
	if d.VolumeSequenceNumber, err = UnpackBothEndianU16(data[28:32]); err != nil {
		return nil, err
	}

	idLength := int(data[32])
	end := directoryRecordMinSize + idLength
	if len(data) < end {
		return nil, newError(TruncatedInput, "directory record identifier", end, len(data))
	}
	id := data[directoryRecordMinSize:end]
	switch {
	case idLength == 1 && id[0] == 0x00:
		d.Identifier = "."
	case idLength == 1 && id[0] == 0x01:
		d.Identifier = ".."
	case joliet:
		if d.Identifier, err = decodeString(id, ucs2); err != nil {
			return nil, err
		}
	default:
		if d.Identifier, err = UnpackStrA(id); err != nil {
			return nil, err
		}
	}

	// 33 + an even identifier length leaves one pad byte
	if idLength%2 == 0 {
		if len(data) <= end {
			return nil, newError(TruncatedInput, "directory record padding", end+1, len(data))
		}
		if err := constantCheck("directory record padding", uint64(data[end]), 0); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *DirectoryRecord) String() string {
	return fmt.Sprintf("<DirectoryRecord id='%v' lba=%v size=%v flags=%v>", d.Identifier, d.LBALocation, d.DataLength, d.Flags)
}

type PathTableRecord struct {
	ExtendedAttributeRecordLength uint8
	ExtentLocation                uint32
	ParentDirectoryNumber         uint16
	Identifier                    string
	// Size is the on-disk size including the pad byte.
	Size int
}

func parsePathTableRecord(data []byte) (*PathTableRecord, error) {
	if len(data) < 8 {
		return nil, newError(TruncatedInput, "path table record", 8, len(data))
	}
	idLength := int(data[0])
	end := 8 + idLength
	if len(data) < end {
		return nil, newError(TruncatedInput, "path table identifier", end, len(data))
	}
	p := &PathTableRecord{
		ExtendedAttributeRecordLength: data[1],
		ExtentLocation:                binary.LittleEndian.Uint32(data[2:6]),
		ParentDirectoryNumber:         binary.LittleEndian.Uint16(data[6:8]),
		Size:                          end,
	}
	id := data[8:end]
	if idLength == 1 && id[0] == 0x00 {
		p.Identifier = "."
	} else {
		var err error
		if p.Identifier, err = UnpackStrD(id); err != nil {
			return nil, err
		}
	}
	if idLength%2 == 1 {
		if len(data) <= end {
			return nil, newError(TruncatedInput, "path table padding", end+1, len(data))
		}
		if err := constantCheck("path table padding", uint64(data[end]), 0); err != nil {
			return nil, err
		}
		p.Size++
	}
	return p, nil
}

func (p *PathTableRecord) String() string {
	return fmt.Sprintf("<PathTableRecord id='%v' parent='%v'>", p.Identifier, p.ParentDirectoryNumber)
}

func isoZone(offset int8) *time.Location {
	return time.FixedZone("", int(offset)*15*60)
}

func checkRange(field string, v, min, max int) error {
	if v < min || v > max {
		return newError(ConstantViolation, field, fmt.Sprintf("%v..%v", min, max), v)
	}
	return nil
}

// parseDirectoryDatetime reads the 7 byte binary form. All zero means unset.
func parseDirectoryDatetime(data []byte) (*time.Time, error) {
	if isZero(data[:7]) {
		return nil, nil
	}
	year := int(data[0]) + 1900
	month, day, hour, minute, second := int(data[1]), int(data[2]), int(data[3]), int(data[4]), int(data[5])
	offset := int8(data[6])
	for _, c := range []struct {
		name        string
		v, min, max int
	}{
		{"month", month, 1, 12},
		{"day", day, 1, 31},
		{"hour", hour, 0, 23},
		{"minute", minute, 0, 59},
		{"second", second, 0, 59},
		{"timezone", int(offset), -48, 52},
	} {
		if err := checkRange("datetime "+c.name, c.v, c.min, c.max); err != nil {
			return nil, err
		}
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, isoZone(offset))
	return &t, nil
}

// parseVolumeDatetime reads the 17 byte ASCII form used by volume
// descriptors. Sixteen '0' digits and a zero offset mean unset.
func parseVolumeDatetime(data []byte) (*time.Time, error) {
	digits := string(data[:16])
	offset := int8(data[16])
	if offset == 0 && (strings.Trim(digits, "0") == "" || isZero(data[:16]) || strings.TrimSpace(digits) == "") {
		return nil, nil
	}
	parts := make([]int, 0, 7)
	for _, span := range [][2]int{{0, 4}, {4, 6}, {6, 8}, {8, 10}, {10, 12}, {12, 14}, {14, 16}} {
		v, err := strconv.Atoi(digits[span[0]:span[1]])
		if err != nil {
			return nil, newError(InvalidCharacterSet, "volume datetime", "digits", digits)
		}
		parts = append(parts, v)
	}
	for _, c := range []struct {
		name        string
		v, min, max int
	}{
		{"year", parts[0], 1, 9999},
		{"month", parts[1], 1, 12},
		{"day", parts[2], 1, 31},
		{"hour", parts[3], 0, 23},
		{"minute", parts[4], 0, 59},
		{"second", parts[5], 0, 59},
		{"timezone", int(offset), -48, 52},
	} {
		if err := checkRange("volume datetime "+c.name, c.v, c.min, c.max); err != nil {
			return nil, err
		}
	}
	t := time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6]*10*int(time.Millisecond), isoZone(offset))
	return &t, nil
}

func isZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
