package psfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	irdGameIDSize = 0x09
	irdPICSize    = 115
	irdDataSize   = 0x10
)

var (
	irdMagic           = []byte("3IRD")
	irdCompressedMagic = []byte{0x1F, 0x8B, 0x08, 0x00}
)

type IrdOptions struct {
	Keys       *KeyRing
	SkipVerify bool
}

type IrdFileHash struct {
	Key  uint64
	Hash []byte
}

type Ird struct {
	Path       string
	Compressed bool

	Version       uint8
	GameID        string
	GameName      string
	UpdateVersion string
	GameVersion   string
	AppVersion    string
	// ID is only present in version 7 files
	ID uint32

	IsoHeader []byte
	IsoFooter []byte

	RegionHashes [][]byte
	FileHashes   []IrdFileHash

	PIC            []byte
	Data1          []byte
	Data2          []byte
	Data2Decrypted []byte
	Data2Patched   []byte

	// UID is only present after version 7
	UID uint32
	CRC uint32

	// raw holds the uncompressed file, CRC included
	raw []byte
}

func OpenIrd(filePath string, opts IrdOptions) (*Ird, error) {
	file, _, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.NewSectionReader(file, 0, file.Size()))
	if err != nil {
		return nil, err
	}
	ird, err := NewIrd(data, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ird %v: %w", filePath, err)
	}
	ird.Path = filePath
	return ird, nil
}

// NewIrd parses an IRD held in memory, gzip wrapped or not.
func NewIrd(data []byte, opts IrdOptions) (*Ird, error) {
	if len(data) == 0 {
		return nil, newError(EmptyInput, "ird", nil, nil)
	}
	keys := opts.Keys
	if keys == nil {
		keys = DefaultKeyRing()
	}
	ird := &Ird{}
	if bytes.HasPrefix(data, irdCompressedMagic) {
		zap.S().Debugf("IRD is gzip compressed")
		inflated, err := gunzip(data)
		if err != nil {
			return nil, err
		}
		data = inflated
		ird.Compressed = true
	}
	ird.raw = data

	r := NewReader(bytes.NewReader(data))
	if err := readMagic(r, "IRD", irdMagic); err != nil {
		return nil, err
	}
	if err := ird.readFields(r, keys); err != nil {
		return nil, err
	}

	if !opts.SkipVerify {
		if !VerifyIrdCRC(ird.raw) {
			return nil, newError(ChecksumMismatch, "ird crc32", ird.CRC, crc32.ChecksumIEEE(ird.raw[:len(ird.raw)-4]))
		}
		zap.S().Infof("CRC Verified")
	}
	zap.S().Infof("IRD %v (%v) successfully parsed", ird.GameID, ird.GameName)
	return ird, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, wrapError(TruncatedInput, "gzip", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, wrapError(TruncatedInput, "gzip", err)
	}
	return out, nil
}

func (ird *Ird) readFields(r *Reader, keys *KeyRing) error {
	le := binary.LittleEndian
	var err error
	if ird.Version, err = r.ReadU8(); err != nil {
		return err
	}
	if ird.GameID, err = r.ReadFixedString(irdGameIDSize, nil); err != nil {
		return err
	}
	nameSize, err := r.ReadU8()
	if err != nil {
		return err
	}
	if ird.GameName, err = r.ReadFixedString(int(nameSize), nil); err != nil {
		return err
	}
	for _, f := range []struct {
		dst  *string
		size int
	}{{&ird.UpdateVersion, 4}, {&ird.GameVersion, 5}, {&ird.AppVersion, 5}} {
		s, err := r.ReadFixedString(f.size, nil)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimRight(s, "\x00")
	}
	zap.S().Debugf("IRD version %v, game id %v, game name %v", ird.Version, ird.GameID, ird.GameName)

	if ird.Version == 7 {
		if ird.ID, err = r.ReadU32(le); err != nil {
			return err
		}
	}

	if ird.IsoHeader, err = readGzipBlob(r, "iso header"); err != nil {
		return err
	}
	if ird.IsoFooter, err = readGzipBlob(r, "iso footer"); err != nil {
		return err
	}

	regionCount, err := r.ReadU8()
	if err != nil {
		return err
	}
	for i := 0; i < int(regionCount); i++ {
		hash, err := r.ReadBytes(0x10)
		if err != nil {
			return err
		}
		ird.RegionHashes = append(ird.RegionHashes, hash)
	}

	fileCount, err := r.ReadU32(le)
	if err != nil {
		return err
	}
	for i := uint32(0); i < fileCount; i++ {
		key, err := r.ReadU64(le)
		if err != nil {
			return err
		}
		hash, err := r.ReadBytes(0x10)
		if err != nil {
			return err
		}
		ird.FileHashes = append(ird.FileHashes, IrdFileHash{Key: key, Hash: hash})
	}
	zap.S().Debugf("IRD regions: %v, files: %v", regionCount, fileCount)

	if _, err := r.ReadBytes(4); err != nil {
		return err
	}

	// Version 9 files moved the 115 byte PIC in front of the disc keys:
	// ... file hashes, 4 unused bytes, PIC, Data1, Data2, UID, CRC.
	// Older versions keep it after Data2. IRDs written by 3k3y IsoTools and
	// ManaGunZ use this layout.
	if ird.Version >= 9 {
		if ird.PIC, err = r.ReadBytes(irdPICSize); err != nil {
			return err
		}
	}
	if ird.Data1, err = r.ReadBytes(irdDataSize); err != nil {
		return err
	}
	if ird.Data2, err = r.ReadBytes(irdDataSize); err != nil {
		return err
	}
	if ird.Version < 9 {
		if ird.PIC, err = r.ReadBytes(irdPICSize); err != nil {
			return err
		}
	}

	if ird.Data2Decrypted, err = DecryptData2(ird.Data2, keys); err != nil {
		return err
	}
	if ird.Data2Patched, err = PatchData2(ird.Data2, keys); err != nil {
		return err
	}
	zap.S().Infof("Data1: %X", ird.Data1)
	zap.S().Infof("Data2: %X", ird.Data2)
	zap.S().Infof("Data2(decrypted): %X", ird.Data2Decrypted)
	zap.S().Infof("Data2(patched): %X", ird.Data2Patched)

	if ird.Version > 7 {
		if ird.UID, err = r.ReadU32(le); err != nil {
			return err
		}
	}
	if ird.CRC, err = r.ReadU32(le); err != nil {
		return err
	}
	return nil
}

func readGzipBlob(r *Reader, field string) ([]byte, error) {
	size, err := r.ReadU32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	blob, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	data, err := gunzip(blob)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", field, err)
	}
	zap.S().Debugf("IRD %v: %v bytes compressed, %v bytes inflated", field, size, len(data))
	return data, nil
}

// VerifyIrdCRC compares the CRC32 of everything but the last 4 bytes with
// the little endian value stored in them.
func VerifyIrdCRC(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	body := data[:len(data)-4]
	return crc32.ChecksumIEEE(body) == binary.LittleEndian.Uint32(data[len(data)-4:])
}

// VerifyCRC checks the uncompressed file this IRD was parsed from.
func (ird *Ird) VerifyCRC() bool {
	return VerifyIrdCRC(ird.raw)
}

func data2Cipher(keys *KeyRing) ([]byte, []byte, error) {
	key, err := keys.requireKey(IrdData2KeyName)
	if err != nil {
		return nil, nil, err
	}
	iv, err := keys.requireKey(IrdData2IVName)
	if err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

func DecryptData2(data2 []byte, keys *KeyRing) ([]byte, error) {
	key, iv, err := data2Cipher(keys)
	if err != nil {
		return nil, err
	}
	return pscrypto.DecryptAes128Cbc(data2, key, iv)
}

// PatchData2 rewrites the trailing little endian 1 of the decrypted block
// and encrypts it again. Any other value returns data2 unchanged.
func PatchData2(data2 []byte, keys *KeyRing) ([]byte, error) {
	key, iv, err := data2Cipher(keys)
	if err != nil {
		return nil, err
	}
	decrypted, err := pscrypto.DecryptAes128Cbc(data2, key, iv)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(decrypted[12:16]) != 1 {
		return append([]byte{}, data2...), nil
	}
	copy(decrypted[12:16], []byte{0x01, 0x00, 0x00, 0x00})
	return pscrypto.EncryptAes128Cbc(decrypted, key, iv)
}
