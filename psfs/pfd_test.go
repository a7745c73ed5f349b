package psfs

import (
	"bytes"
	"testing"

	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPfdIV      = bytes.Repeat([]byte{0x1F}, pscrypto.BlockSize)
	testPfdFileKey = bytes.Repeat([]byte{0xF1}, 20)
)

type testPfd struct {
	version  uint64
	xy       uint64
	reserved uint64
	files    []string
}

func testProtectedFile(index uint64, name string, size uint64) []byte {
	record := make([]byte, pfdProtectedFileSize)
	copy(record[0:8], u64be(index))
	copy(record[8:73], name)
	copy(record[80:144], bytes.Repeat([]byte{0x4B}, 64))
	for i := 0; i < 4; i++ {
		copy(record[144+i*20:164+i*20], bytes.Repeat([]byte{byte(0xA0 + i)}, 20))
	}
	copy(record[264:272], u64be(size))
	return record
}

func (p testPfd) build(t *testing.T) []byte {
	table := make([]byte, pfdTableSize)
	copy(table[0:20], bytes.Repeat([]byte{0x59}, 20))
	copy(table[20:40], bytes.Repeat([]byte{0x58}, 20))
	copy(table[40:60], testPfdFileKey)
	encrypted, err := pscrypto.EncryptAes128Cbc(table, DefaultKeyRing().GetKey(PfdSysconManagerKeyName), testPfdIV)
	require.NoError(t, err)

	var b bytes.Buffer
	b.Write(pfdMagic)
	b.Write(u64be(p.version))
	b.Write(testPfdIV)
	b.Write(encrypted)
	b.Write(u64be(p.xy))
	b.Write(u64be(p.reserved))
	b.Write(u64be(uint64(len(p.files))))
	for i := uint64(0); i < p.xy; i++ {
		b.Write(u64be(i))
	}
	for i := uint64(0); i < p.reserved; i++ {
		if int(i) < len(p.files) {
			b.Write(testProtectedFile(i, p.files[i], 0x100*(i+1)))
		} else {
			b.Write(make([]byte, pfdProtectedFileSize))
		}
	}
	for i := uint64(0); i < p.xy; i++ {
		b.Write(bytes.Repeat([]byte{byte(i)}, pfdYEntrySize))
	}
	b.Write(make([]byte, pfdTailPadding))
	return b.Bytes()
}

func newTestPfd() testPfd {
	return testPfd{version: 3, xy: 3, reserved: 4, files: []string{"SYS-DATA", "USR-DATA"}}
}

func TestPfdVersion3(t *testing.T) {
	pfd, err := NewPfd(newTestPfd().build(t), nil)
	require.NoError(t, err)

	h := pfd.Header
	assert.Equal(t, uint64(3), h.Version)
	assert.Equal(t, testPfdFileKey, h.FileHMACKey)
	assert.Equal(t, testPfdFileKey, h.RealKey)
	assert.Equal(t, bytes.Repeat([]byte{0x59}, 20), h.YTableHMAC)
	assert.Equal(t, bytes.Repeat([]byte{0x58}, 20), h.XTableHMAC)
	assert.Equal(t, uint64(2), h.ProtectedFilesUsed)

	assert.Len(t, pfd.XTable, 3)
	assert.Len(t, pfd.YTable, 3)
	require.Len(t, pfd.ProtectedFiles, 2)
	assert.Equal(t, "SYS-DATA", pfd.ProtectedFiles[0].Name)
	assert.Equal(t, uint64(0x200), pfd.ProtectedFiles[1].FileSize)
	assert.Equal(t, bytes.Repeat([]byte{0xA2}, 20), pfd.ProtectedFiles[1].Hashes[2])

	usr := pfd.ProtectedFile("USR-DATA")
	require.NotNil(t, usr)
	assert.Equal(t, uint64(1), usr.VirtualIndex)
	assert.Nil(t, pfd.ProtectedFile("ICON0.PNG"))
}

func TestPfdVersion4DerivesKey(t *testing.T) {
	p := newTestPfd()
	p.version = 4
	pfd, err := NewPfd(p.build(t), nil)
	require.NoError(t, err)
	want := pscrypto.HmacSha256(DefaultKeyRing().GetKey(PfdKeygenKeyName), testPfdFileKey)
	assert.Equal(t, want, pfd.Header.RealKey)
	assert.NotEqual(t, pfd.Header.FileHMACKey, pfd.Header.RealKey)
}

func TestPfdRejects(t *testing.T) {
	p := newTestPfd()
	p.version = 5
	_, err := NewPfd(p.build(t), nil)
	assert.True(t, IsKind(err, UnknownVariant))

	data := newTestPfd().build(t)
	// used count above reserved
	data[0x77] = 9
	_, err = NewPfd(data, nil)
	assert.True(t, IsKind(err, SizeConstraintViolation))

	data = newTestPfd().build(t)
	// first byte of the unused third record
	data[0x78+3*pfdXEntrySize+2*pfdProtectedFileSize] = 0x01
	_, err = NewPfd(data, nil)
	assert.True(t, IsKind(err, ConstantViolation))

	data = newTestPfd().build(t)
	data[len(data)-1] = 0x01
	_, err = NewPfd(data, nil)
	assert.True(t, IsKind(err, ConstantViolation))

	data = newTestPfd().build(t)
	_, err = NewPfd(data[:len(data)-10], nil)
	assert.True(t, IsKind(err, TruncatedInput))

	data[4] = 'X'
	_, err = NewPfd(data, nil)
	assert.True(t, IsKind(err, MagicMismatch))

	_, err = NewPfd(nil, nil)
	assert.True(t, IsKind(err, EmptyInput))

	keys := DefaultKeyRing()
	keys.SetKey(PfdSysconManagerKeyName, nil)
	_, err = NewPfd(newTestPfd().build(t), keys)
	assert.True(t, IsKind(err, MissingKeyMaterial))
}
