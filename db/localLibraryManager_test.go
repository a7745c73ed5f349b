package db

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paramSfo builds a PARAM.SFO holding UTF8 values with a fixed 0x40 byte
// slot each.
func paramSfo(values [][2]string) []byte {
	const slot = 0x40
	le := binary.LittleEndian
	var index, keys, data []byte
	for _, kv := range values {
		entry := make([]byte, 16)
		le.PutUint16(entry[0:2], uint16(len(keys)))
		le.PutUint16(entry[2:4], uint16(psfs.SfoUTF8))
		le.PutUint32(entry[4:8], uint32(len(kv[1])+1))
		le.PutUint32(entry[8:12], slot)
		le.PutUint32(entry[12:16], uint32(len(data)))
		index = append(index, entry...)
		keys = append(append(keys, kv[0]...), 0x00)
		value := make([]byte, slot)
		copy(value, kv[1])
		data = append(data, value...)
	}
	for len(keys)%4 != 0 {
		keys = append(keys, 0x00)
	}
	header := make([]byte, 20)
	copy(header, "\x00PSF")
	copy(header[4:8], []byte{0x01, 0x01, 0x00, 0x00})
	keyTable := len(header) + len(index)
	le.PutUint32(header[8:12], uint32(keyTable))
	le.PutUint32(header[12:16], uint32(keyTable+len(keys)))
	le.PutUint32(header[16:20], uint32(len(values)))
	out := append(header, index...)
	out = append(out, keys...)
	return append(out, data...)
}

func writeSfo(t *testing.T, path string, titleID, title, appVer string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	data := paramSfo([][2]string{{"APP_VER", appVer}, {"TITLE", title}, {"TITLE_ID", titleID}})
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func newTestManager(t *testing.T) (*LocalLibraryManager, *PersistentDB) {
	pdb, err := NewPersistentDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pdb.Close() })
	s := &settings.AppSettings{VerifyHashes: true}
	return NewLocalLibraryManager(pdb, s, psfs.DefaultKeyRing(), psfs.NewNameCodecTable()), pdb
}

func TestFormatOf(t *testing.T) {
	for name, want := range map[string]FileFormat{
		"UP0001.pkg":       FormatPkg,
		"PARAM.SFO":        FormatSfo,
		"BLES00001.ird":    FormatIrd,
		"UP0001.PKG.66600": FormatPkg,
		"game.pkg.0":       FormatPkg,
	} {
		format, part, ok := formatOf(name)
		assert.True(t, ok, name)
		assert.False(t, part, name)
		assert.Equal(t, want, format, name)
	}
	_, part, ok := formatOf("game.pkg.1")
	assert.True(t, part)
	assert.False(t, ok)
	_, part, ok = formatOf("readme.txt")
	assert.False(t, part)
	assert.False(t, ok)
}

func TestCreateLocalLibrary(t *testing.T) {
	root := t.TempDir()
	writeSfo(t, filepath.Join(root, "a", "PARAM.SFO"), "BLES00001", "First", "01.00")
	writeSfo(t, filepath.Join(root, "b", "PARAM.SFO"), "BLES00001", "First", "01.02")
	writeSfo(t, filepath.Join(root, "c", "PARAM.SFO"), "BLES00001", "First", "01.02")
	writeSfo(t, filepath.Join(root, "d", "PARAM.SFO"), "NPUB30002", "Second", "02.00")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.pkg"), []byte("not a package"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0755))
	writeSfo(t, filepath.Join(root, ".hidden", "PARAM.SFO"), "HIDDEN001", "Hidden", "01.00")

	manager, _ := newTestManager(t)
	var mu sync.Mutex
	updates := 0
	progress := ProgressFunc(func(curr, total int, message string) {
		mu.Lock()
		updates++
		mu.Unlock()
	})

	library, err := manager.CreateLocalLibrary([]string{root}, progress, true, false)
	require.NoError(t, err)
	assert.Equal(t, 6, library.NumFiles)
	assert.NotZero(t, updates)

	require.Len(t, library.Titles, 2)
	first := library.Titles["BLES00001"]
	require.NotNil(t, first)
	assert.Equal(t, "First", first.Title)
	assert.Equal(t, "01.02", first.Latest.Summary.AppVersion)
	assert.Equal(t, filepath.Join(root, "b"), first.Latest.ExtendedInfo.BaseFolder)
	assert.Len(t, first.Files, 3)

	reasons := map[string]int{}
	for file, skipped := range library.Skipped {
		rel, _ := filepath.Rel(root, file.Path())
		reasons[filepath.ToSlash(rel)] = skipped.ReasonCode
	}
	assert.Equal(t, map[string]int{
		"a/PARAM.SFO": REASON_OLD_VERSION,
		"c/PARAM.SFO": REASON_DUPLICATE,
		"notes.txt":   REASON_UNSUPPORTED_TYPE,
		"broken.pkg":  REASON_MALFORMED_FILE,
	}, reasons)

	sorted := library.SortedTitles()
	assert.Equal(t, "BLES00001", sorted[0].TitleID)
	assert.Equal(t, "NPUB30002", sorted[1].TitleID)
}

func TestCreateLocalLibraryNotRecursive(t *testing.T) {
	root := t.TempDir()
	writeSfo(t, filepath.Join(root, "PARAM.SFO"), "BLES00001", "Top", "01.00")
	writeSfo(t, filepath.Join(root, "sub", "PARAM.SFO"), "BLES00002", "Nested", "01.00")

	manager, _ := newTestManager(t)
	library, err := manager.CreateLocalLibrary([]string{root}, nil, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, library.NumFiles)
	assert.Contains(t, library.Titles, "BLES00001")
}

func TestCreateLocalLibraryMissingFolder(t *testing.T) {
	manager, _ := newTestManager(t)
	library, err := manager.CreateLocalLibrary([]string{filepath.Join(t.TempDir(), "missing")}, nil, true, false)
	assert.Error(t, err)
	assert.Empty(t, library.Titles)
}

func TestScanCache(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "PARAM.SFO")
	writeSfo(t, path, "BLES00001", "Cached", "01.00")

	manager, pdb := newTestManager(t)
	_, err := manager.CreateLocalLibrary([]string{root}, nil, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, pdb.Count(DB_TABLE_FILE_SCAN_METADATA))

	// same size, different title
	writeSfo(t, path, "BLES00001", "Edited", "01.00")
	library, err := manager.CreateLocalLibrary([]string{root}, nil, true, false)
	require.NoError(t, err)
	assert.Equal(t, "Cached", library.Titles["BLES00001"].Title)

	library, err = manager.CreateLocalLibrary([]string{root}, nil, true, true)
	require.NoError(t, err)
	assert.Equal(t, "Edited", library.Titles["BLES00001"].Title)

	require.NoError(t, manager.ClearScanData())
	assert.Equal(t, 0, pdb.Count(DB_TABLE_FILE_SCAN_METADATA))
}
