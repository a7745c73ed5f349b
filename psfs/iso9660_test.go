package psfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPathTableSector = 18
	testRootSector      = 19
	testFileSector      = 20
	testIsoSectors      = 21
)

func testDirectoryRecord(id []byte, lba, size uint32, flags FileFlags) []byte {
	length := directoryRecordMinSize + len(id)
	if len(id)%2 == 0 {
		length++
	}
	rec := make([]byte, length)
	rec[0] = byte(length)
	copy(rec[2:10], bothEndian32(lba))
	copy(rec[10:18], bothEndian32(size))
	rec[25] = byte(flags)
	copy(rec[28:32], bothEndian16(1))
	rec[32] = byte(len(id))
	copy(rec[33:], id)
	return rec
}

func testDescriptor(t DescriptorType) []byte {
	s := make([]byte, isoSectorSize)
	s[0] = byte(t)
	copy(s[1:6], isoStandardIdentifier)
	s[6] = 1
	return s
}

func testPrimaryDescriptor() []byte {
	s := testDescriptor(DescriptorPrimary)
	copy(s[8:40], bytes.Repeat([]byte(" "), 32))
	copy(s[8:], "PS3")
	copy(s[40:72], bytes.Repeat([]byte(" "), 32))
	copy(s[40:], "PS3VOLUME")
	copy(s[80:88], bothEndian32(testIsoSectors))
	copy(s[120:124], bothEndian16(1))
	copy(s[124:128], bothEndian16(1))
	copy(s[128:132], bothEndian16(isoSectorSize))
	copy(s[132:140], bothEndian32(10))
	binary.LittleEndian.PutUint32(s[140:144], testPathTableSector)
	copy(s[156:190], testDirectoryRecord([]byte{0x00}, testRootSector, isoSectorSize, FileFlagDirectory))
	copy(s[190:813], bytes.Repeat([]byte(" "), 813-190))
	for _, off := range []int{813, 830, 847, 864} {
		copy(s[off:off+16], "0000000000000000")
	}
	copy(s[813:829], "2006111100000000")
	s[881] = 1
	return s
}

// testISO builds a 21 sector image: primary descriptor, terminator, path
// table, root directory and one file.
func testISO() []byte {
	image := make([]byte, testIsoSectors*isoSectorSize)
	sector := func(n int) []byte { return image[n*isoSectorSize : (n+1)*isoSectorSize] }

	copy(sector(isoFirstDescriptor), testPrimaryDescriptor())
	copy(sector(isoFirstDescriptor+1), testDescriptor(DescriptorTerminator))

	pathTable := sector(testPathTableSector)
	pathTable[0] = 1
	binary.LittleEndian.PutUint32(pathTable[2:6], testRootSector)
	binary.LittleEndian.PutUint16(pathTable[6:8], 1)

	var dir []byte
	dir = append(dir, testDirectoryRecord([]byte{0x00}, testRootSector, isoSectorSize, FileFlagDirectory)...)
	dir = append(dir, testDirectoryRecord([]byte{0x01}, testRootSector, isoSectorSize, FileFlagDirectory)...)
	dir = append(dir, testDirectoryRecord([]byte("HELLO.TXT;1"), testFileSector, 5, 0)...)
	copy(sector(testRootSector), dir)

	copy(sector(testFileSector), "hello")
	return image
}

func TestISOOpen(t *testing.T) {
	image := testISO()
	iso, err := NewISO(bytes.NewReader(image), int64(len(image)))
	require.NoError(t, err)

	assert.True(t, iso.SawTerminator)
	require.Len(t, iso.Descriptors, 2)
	require.NotNil(t, iso.Primary)
	assert.Nil(t, iso.Supplementary)
	assert.Equal(t, "PS3VOLUME", strings.TrimSpace(iso.Primary.VolumeIdentifier))
	assert.Equal(t, "PS3", strings.TrimSpace(iso.Primary.SystemIdentifier))
	assert.Equal(t, uint32(testIsoSectors), iso.Primary.VolumeSpaceSize)
	assert.Equal(t, int64(isoSectorSize), iso.BlockSize)
	require.NotNil(t, iso.Primary.VolumeCreation)
	assert.Equal(t, 2006, iso.Primary.VolumeCreation.Year())
	assert.Nil(t, iso.Primary.VolumeExpiration)
	_, ok := iso.ByType[DescriptorTerminator]
	assert.True(t, ok)

	require.Len(t, iso.PathTable, 1)
	assert.Equal(t, ".", iso.PathTable[0].Identifier)
	assert.Equal(t, uint32(testRootSector), iso.PathTable[0].ExtentLocation)
}

func TestISOReadDirectory(t *testing.T) {
	image := testISO()
	iso, err := NewISO(bytes.NewReader(image), int64(len(image)))
	require.NoError(t, err)

	records, err := iso.ReadDirectory(iso.Primary.RootDirectoryRecord)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ".", records[0].Identifier)
	assert.Equal(t, "..", records[1].Identifier)
	assert.Equal(t, "HELLO.TXT;1", records[2].Identifier)
	assert.False(t, records[2].IsDirectory())

	content, err := io.ReadAll(iso.FileReader(records[2]))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = iso.ReadDirectory(records[2])
	assert.True(t, IsKind(err, UnsupportedOperation))
}

func TestISOMissingIdentifier(t *testing.T) {
	image := make([]byte, 17*isoSectorSize)
	_, err := NewISO(bytes.NewReader(image), int64(len(image)))
	assert.True(t, IsKind(err, MagicMismatch))

	_, err = NewISO(bytes.NewReader(nil), 0)
	assert.True(t, IsKind(err, EmptyInput))
}

func TestISOWalkWithoutTerminator(t *testing.T) {
	image := testISO()
	copy(image[(isoFirstDescriptor+1)*isoSectorSize:], make([]byte, isoSectorSize))
	iso, err := NewISO(bytes.NewReader(image), int64(len(image)))
	require.NoError(t, err)
	assert.False(t, iso.SawTerminator)
	assert.Len(t, iso.Descriptors, 1)
}

func TestISOTruncated(t *testing.T) {
	image := testISO()[:10*isoSectorSize]
	_, err := NewISO(bytes.NewReader(image), int64(len(image)))
	assert.True(t, IsKind(err, TruncatedInput))
}

func TestISOVolumeSizeEndianMismatch(t *testing.T) {
	image := testISO()
	image[isoFirstDescriptor*isoSectorSize+87] ^= 0x01
	_, err := NewISO(bytes.NewReader(image), int64(len(image)))
	assert.True(t, IsKind(err, EndianMismatch))
}

func TestDirectoryRecordPadding(t *testing.T) {
	rec := testDirectoryRecord([]byte("AB"), 1, 1, 0)
	d, err := parseDirectoryRecord(rec, false)
	require.NoError(t, err)
	assert.Equal(t, "AB", d.Identifier)

	rec[len(rec)-1] = 0x01
	_, err = parseDirectoryRecord(rec, false)
	assert.True(t, IsKind(err, ConstantViolation))

	_, err = parseDirectoryRecord(rec[:20], false)
	assert.True(t, IsKind(err, TruncatedInput))
}

func TestDirectoryDatetime(t *testing.T) {
	ts, err := parseDirectoryDatetime([]byte{106, 11, 11, 12, 30, 15, 4})
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 2006, ts.Year())
	_, offset := ts.Zone()
	assert.Equal(t, 3600, offset)

	_, err = parseDirectoryDatetime([]byte{106, 13, 11, 12, 30, 15, 0})
	assert.True(t, IsKind(err, ConstantViolation))
}
