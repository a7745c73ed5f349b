package process

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Nicba1010/PS-Tools/db"
	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/Nicba1010/PS-Tools/psfs/pscrypto"
	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEntry struct {
	name   string
	folder bool
	data   []byte
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func pad16(b []byte) []byte {
	return append(b, make([]byte, pscrypto.NextMultipleOf16(len(b))-len(b))...)
}

// paramSfo builds a PARAM.SFO with one UTF8 TITLE value.
func paramSfo(title string) []byte {
	le := binary.LittleEndian
	index := make([]byte, 16)
	le.PutUint16(index[2:4], uint16(psfs.SfoUTF8))
	le.PutUint32(index[4:8], uint32(len(title)+1))
	le.PutUint32(index[8:12], 0x80)
	keys := []byte("TITLE\x00\x00\x00")
	header := make([]byte, 20)
	copy(header, "\x00PSF")
	copy(header[4:8], []byte{0x01, 0x01, 0x00, 0x00})
	le.PutUint32(header[8:12], 36)
	le.PutUint32(header[12:16], uint32(36+len(keys)))
	le.PutUint32(header[16:20], 1)
	value := make([]byte, 0x80)
	copy(value, title)
	out := append(header, index...)
	out = append(out, keys...)
	return append(out, value...)
}

// debugPkg lays out a DEBUG package, whose keystream needs no key.
func debugPkg(t *testing.T, entries []testEntry) []byte {
	const headerLen = 0xC0
	var digest [pscrypto.BlockSize]byte
	copy(digest[:], "debug-digest....")

	var meta []byte
	for _, m := range []struct {
		id   uint32
		data []byte
	}{
		{0x01, be32(3)},
		{0x02, be32(5)},
		{0x06, []byte("NPUB12345\x00\x00\x00")},
	} {
		meta = append(meta, be32(m.id)...)
		meta = append(meta, be32(uint32(len(m.data)))...)
		meta = append(meta, m.data...)
	}
	dataOffset := pscrypto.NextMultipleOf16(headerLen + len(meta))

	region := make([]byte, len(entries)*0x20)
	for i, e := range entries {
		nameOff := len(region)
		region = pad16(append(region, e.name...))
		dataOff := len(region)
		region = pad16(append(region, e.data...))
		typ := uint32(psfs.EntryTypeRegular)
		if e.folder {
			typ = uint32(psfs.EntryTypeFolder)
		}
		record := region[i*0x20 : (i+1)*0x20]
		binary.BigEndian.PutUint32(record[0x00:], uint32(nameOff))
		binary.BigEndian.PutUint32(record[0x04:], uint32(len(e.name)))
		binary.BigEndian.PutUint64(record[0x08:], uint64(dataOff))
		binary.BigEndian.PutUint64(record[0x10:], uint64(len(e.data)))
		binary.BigEndian.PutUint32(record[0x18:], typ)
	}
	ks := pscrypto.NewDebugKeystream(digest, int64(dataOffset))
	require.NoError(t, ks.XORKeyStream(region, int64(dataOffset), nil))

	var header []byte
	header = append(header, "\x7fPKG"...)
	header = append(header, 0x00, 0x00, 0x00, 0x01)
	header = append(header, be32(headerLen)...)
	header = append(header, be32(3)...)
	header = append(header, be32(uint32(len(meta)))...)
	header = append(header, be32(uint32(len(entries)))...)
	header = append(header, be64(uint64(dataOffset+len(region)+0x20))...)
	header = append(header, be64(uint64(dataOffset))...)
	header = append(header, be64(uint64(len(region)))...)
	header = append(header, "UP0001-NPUB12345_00-0000000000000001"...)
	header = append(header, make([]byte, 0x0C)...)
	header = append(header, digest[:]...)
	header = append(header, make([]byte, headerLen-len(header))...)

	file := append(header, meta...)
	file = append(file, make([]byte, dataOffset-len(file))...)
	file = append(file, region...)
	return append(file, make([]byte, 0x20)...)
}

func openDebugPkg(t *testing.T, entries []testEntry) *psfs.Pkg {
	data := debugPkg(t, entries)
	pkg, err := psfs.NewPkg(bytes.NewReader(data), int64(len(data)), psfs.PkgOptions{SkipVerify: true})
	require.NoError(t, err)
	return pkg
}

func testEntries() []testEntry {
	return []testEntry{
		{name: "PARAM.SFO", data: paramSfo("Test: Game")},
		{name: "USRDIR", folder: true},
		{name: "USRDIR/EBOOT.BIN", data: []byte("SCE\x00 executable")},
		{name: "USRDIR/DATA/level1.dat", data: bytes.Repeat([]byte{0x42}, 100)},
	}
}

func defaultOptions() ExtractOptions {
	return ExtractOptions{ExtractOptions: settings.ExtractOptions{
		CreateFolderPerTitle: true,
		FolderNameTemplate:   "{TITLE_ID} {TITLE_NAME}",
	}}
}

func TestExtractPkg(t *testing.T) {
	pkg := openDebugPkg(t, testEntries())
	fs := afero.NewMemMapFs()

	updates := 0
	progress := db.ProgressFunc(func(curr, total int, message string) { updates++ })
	folder, err := ExtractPkg(fs, pkg, "/out", defaultOptions(), progress)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "NPUB12345 Test- Game"), folder)
	assert.Equal(t, len(testEntries()), updates)

	eboot, err := afero.ReadFile(fs, filepath.Join(folder, "USRDIR", "EBOOT.BIN"))
	require.NoError(t, err)
	assert.Equal(t, "SCE\x00 executable", string(eboot))

	level, err := afero.ReadFile(fs, filepath.Join(folder, "USRDIR", "DATA", "level1.dat"))
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 100), level)

	isDir, err := afero.IsDir(fs, filepath.Join(folder, "USRDIR"))
	require.NoError(t, err)
	assert.True(t, isDir)
}

func TestExtractEntryOverwrite(t *testing.T) {
	pkg := openDebugPkg(t, testEntries())
	fs := afero.NewMemMapFs()
	eboot := pkg.Entries[2]
	target := filepath.Join("/out", "USRDIR", "EBOOT.BIN")
	require.NoError(t, afero.WriteFile(fs, target, []byte("old"), 0644))

	written, err := ExtractEntry(fs, pkg, eboot, "/out", false)
	require.NoError(t, err)
	assert.False(t, written)
	data, _ := afero.ReadFile(fs, target)
	assert.Equal(t, "old", string(data))

	written, err = ExtractEntry(fs, pkg, eboot, "/out", true)
	require.NoError(t, err)
	assert.True(t, written)
	data, _ = afero.ReadFile(fs, target)
	assert.Equal(t, "SCE\x00 executable", string(data))
}

func TestExtractPkgWithoutFolder(t *testing.T) {
	pkg := openDebugPkg(t, testEntries()[1:])
	fs := afero.NewMemMapFs()
	options := defaultOptions()
	options.CreateFolderPerTitle = false

	folder, err := ExtractPkg(fs, pkg, "/out", options, nil)
	require.NoError(t, err)
	assert.Equal(t, "/out", folder)
	exists, _ := afero.Exists(fs, filepath.Join("/out", "USRDIR", "EBOOT.BIN"))
	assert.True(t, exists)
}

func TestPkgFolderNameWithoutParamSfo(t *testing.T) {
	pkg := openDebugPkg(t, testEntries()[1:])
	assert.Equal(t, "NPUB12345", PkgFolderName(pkg, defaultOptions()))

	options := defaultOptions()
	options.FolderNameTemplate = "{CONTENT_ID} [{VERSION}]"
	assert.Equal(t, "UP0001-NPUB12345_00-0000000000000001", PkgFolderName(pkg, options))
}

func TestExtractPkgRejectsEscapingNames(t *testing.T) {
	entries := append(testEntries()[1:], testEntry{name: "../escape.bin", data: []byte("x")})
	pkg := openDebugPkg(t, entries)
	fs := afero.NewMemMapFs()
	options := defaultOptions()
	options.CreateFolderPerTitle = false

	_, err := ExtractPkg(fs, pkg, "/out", options, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "escape.bin"))
	exists, _ := afero.Exists(fs, "/escape.bin")
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, filepath.Join("/out", "USRDIR", "EBOOT.BIN"))
	assert.True(t, exists)
}

func TestExtractPkgInvalidOptions(t *testing.T) {
	pkg := openDebugPkg(t, testEntries())
	options := defaultOptions()
	options.FolderNameTemplate = "{VERSION}"
	_, err := ExtractPkg(afero.NewMemMapFs(), pkg, "/out", options, nil)
	assert.Error(t, err)
}

// rawPsarc stores the manifest and every file uncompressed in one block.
func rawPsarc(files map[string]string, order []string) []byte {
	manifest := []byte(strings.Join(order, "\n"))
	blobs := [][]byte{manifest}
	for _, name := range order {
		blobs = append(blobs, []byte(files[name]))
	}

	tocLength := uint32(0x20 + 30*len(blobs))
	var b bytes.Buffer
	b.WriteString("PSAR")
	b.Write([]byte{0x00, 0x01, 0x00, 0x04})
	b.WriteString("zlib")
	for _, v := range []uint32{tocLength, 30, uint32(len(blobs)), 0x10000, 0} {
		b.Write(be32(v))
	}
	offset := uint64(tocLength)
	for i, blob := range blobs {
		b.Write(make([]byte, 0x10))
		b.Write(be32(uint32(i)))
		b.Write(be64(uint64(len(blob)))[3:])
		b.Write(be64(offset)[3:])
		offset += uint64(len(blob))
	}
	for _, blob := range blobs {
		b.Write(blob)
	}
	return b.Bytes()
}

func TestExtractPsarc(t *testing.T) {
	order := []string{"songs/intro.txt", "gfx/logo.txt"}
	data := rawPsarc(map[string]string{"songs/intro.txt": "intro", "gfx/logo.txt": "logo"}, order)
	psarc, err := psfs.NewPsarc(bytes.NewReader(data), int64(len(data)), psfs.PsarcOptions{})
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	require.NoError(t, ExtractPsarc(fs, psarc, "/out", ExtractOptions{}, nil))

	intro, err := afero.ReadFile(fs, filepath.Join("/out", "songs", "intro.txt"))
	require.NoError(t, err)
	assert.Equal(t, "intro", string(intro))
	logo, err := afero.ReadFile(fs, filepath.Join("/out", "gfx", "logo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "logo", string(logo))

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
