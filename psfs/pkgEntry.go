package psfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const pkgEntrySize = 0x20

type EntryType uint8

const (
	EntryTypeNpdrm         EntryType = 0x01
	EntryTypeNpdrmEdat     EntryType = 0x02
	EntryTypeRegular       EntryType = 0x03
	EntryTypeFolder        EntryType = 0x04
	EntryTypeSdat          EntryType = 0x09
	EntryTypeUnknownFolder EntryType = 0x12
)

var unknownFileEntryTypes = map[uint8]bool{0x06: true, 0x0E: true, 0x10: true, 0x11: true, 0x13: true, 0x15: true, 0x16: true}

func parseEntryType(v uint8) (EntryType, error) {
	switch EntryType(v) {
	case EntryTypeNpdrm, EntryTypeNpdrmEdat, EntryTypeRegular, EntryTypeFolder, EntryTypeSdat, EntryTypeUnknownFolder:
		return EntryType(v), nil
	}
	if unknownFileEntryTypes[v] {
		return EntryType(v), nil
	}
	return 0, newError(UnknownVariant, "entry type", nil, fmt.Sprintf("0x%02X", v))
}

func (t EntryType) IsFile() bool {
	return t != EntryTypeFolder && t != EntryTypeUnknownFolder
}

func (t EntryType) String() string {
	switch t {
	case EntryTypeNpdrm:
		return "NPDRM"
	case EntryTypeNpdrmEdat:
		return "NPDRM_EDAT"
	case EntryTypeRegular:
		return "REGULAR"
	case EntryTypeFolder:
		return "FOLDER"
	case EntryTypeSdat:
		return "SDAT"
	case EntryTypeUnknownFolder:
		return "UNKNOWN_FOLDER"
	}
	return "UNKNOWN_FILE"
}

type PkgEntry struct {
	Index      int
	NameOffset uint32
	NameSize   uint32
	FileOffset uint64
	FileSize   uint64
	Overwrite  bool
	IsPSP      bool
	Type       EntryType
	Name       string
	// DataKey decrypts the name and the file data of this entry.
	DataKey []byte
}

func (e *PkgEntry) IsFile() bool {
	return e.Type.IsFile()
}

// readPkgEntry decodes one 32 byte record that was already decrypted.
func readPkgEntry(index int, record []byte) (*PkgEntry, error) {
	if len(record) < pkgEntrySize {
		return nil, newError(TruncatedInput, "pkg entry", pkgEntrySize, len(record))
	}
	be := binary.BigEndian
	flags := be.Uint32(record[0x18:0x1C])
	if err := zeroCheck("pkg entry padding", record[0x1C:0x20]); err != nil {
		return nil, err
	}
	entryType, err := parseEntryType(uint8(flags & 0xFF))
	if err != nil {
		return nil, err
	}
	return &PkgEntry{
		Index:      index,
		NameOffset: be.Uint32(record[0x00:0x04]),
		NameSize:   be.Uint32(record[0x04:0x08]),
		FileOffset: be.Uint64(record[0x08:0x10]),
		FileSize:   be.Uint64(record[0x10:0x18]),
		Overwrite:  (flags>>24)&0x80 != 0,
		IsPSP:      (flags>>24)&0x10 != 0,
		Type:       entryType,
	}, nil
}

// entryDataKey swaps in the PS3 key for non PSP entries of a package
// encrypted with the PSP key.
func entryDataKey(containerKey []byte, isPSP bool, keys *KeyRing) []byte {
	if !isPSP && bytes.Equal(containerKey, keys.GetKey(PSPGpkgKeyName)) {
		if ps3 := keys.GetKey(PS3GpkgKeyName); len(ps3) > 0 {
			return ps3
		}
	}
	return containerKey
}
