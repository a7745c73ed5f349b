package settings

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/magiconair/properties"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFs(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	prev := UseFs(fs)
	t.Cleanup(func() { UseFs(prev) })
	return fs
}

func TestReadSettingsCreatesDefaults(t *testing.T) {
	fs := memFs(t)
	require.NoError(t, fs.MkdirAll("/cfg", 0755))

	s := ReadSettings("/cfg")
	assert.Equal(t, "/cfg", s.BaseFolder())
	assert.True(t, s.VerifyHashes)
	assert.True(t, s.ScanRecursively)
	assert.False(t, s.StrictDecompression)
	assert.Equal(t, "{TITLE_ID} {TITLE_NAME}", s.ExtractOptions.FolderNameTemplate)

	saved, err := afero.ReadFile(fs, "/cfg/"+SETTINGS_FILENAME)
	require.NoError(t, err)
	assert.Contains(t, string(saved), `"verify_hashes": true`)
	assert.Contains(t, string(saved), `"folder_name_template"`)
}

func TestReadSettingsLoadsFile(t *testing.T) {
	fs := memFs(t)
	payload := `{"keys_file":"/keys/k.properties","scan_folders":["/games"],"verify_hashes":false,"romanize_names":true}`
	require.NoError(t, afero.WriteFile(fs, "/cfg/"+SETTINGS_FILENAME, []byte(payload), 0644))

	s := ReadSettings("/cfg")
	assert.Equal(t, "/keys/k.properties", s.KeysFile)
	assert.Equal(t, []string{"/games"}, s.ScanFolders)
	assert.False(t, s.VerifyHashes)
	assert.True(t, s.RomanizeNames)
}

func TestReadSettingsCorrupted(t *testing.T) {
	fs := memFs(t)
	require.NoError(t, afero.WriteFile(fs, "/cfg/"+SETTINGS_FILENAME, []byte("{not json"), 0644))

	s := ReadSettings("/cfg")
	assert.True(t, s.VerifyHashes)
	saved, err := afero.ReadFile(fs, "/cfg/"+SETTINGS_FILENAME)
	require.NoError(t, err)
	assert.NoError(t, s.Load(saved))
}

func TestParseKeyRing(t *testing.T) {
	p := properties.MustLoadString("ps3_gpkg_key = 00112233445566778899aabbccddeeff\nmy_extra_key = 0102\n")
	keys, err := ParseKeyRing(p)
	require.NoError(t, err)

	want, _ := hex.DecodeString("00112233445566778899aabbccddeeff")
	assert.Equal(t, want, keys.GetKey(psfs.PS3GpkgKeyName))
	assert.Equal(t, []byte{0x01, 0x02}, keys.GetKey("my_extra_key"))
	assert.Equal(t, psfs.DefaultKeyRing().GetKey(psfs.PSPGpkgKeyName), keys.GetKey(psfs.PSPGpkgKeyName))
}

func TestParseKeyRingMalformed(t *testing.T) {
	p := properties.MustLoadString("ps3_gpkg_key = zz\npsp_gpkg_key = 123\n")
	_, err := ParseKeyRing(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ps3_gpkg_key")
	assert.Contains(t, err.Error(), "psp_gpkg_key")
}

func TestLoadKeyRing(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadKeyRing(dir, "")
	require.NoError(t, err)
	assert.Equal(t, psfs.DefaultKeyRing().GetKey(psfs.IrdData2KeyName), keys.GetKey(psfs.IrdData2KeyName))

	require.NoError(t, os.WriteFile(filepath.Join(dir, KEYS_FILENAME), []byte("ird_data2_iv = ffeeddccbbaa99887766554433221100\n"), 0644))
	keys, err = LoadKeyRing(dir, "")
	require.NoError(t, err)
	want, _ := hex.DecodeString("ffeeddccbbaa99887766554433221100")
	assert.Equal(t, want, keys.GetKey(psfs.IrdData2IVName))

	custom := filepath.Join(dir, "custom.properties")
	require.NoError(t, os.WriteFile(custom, []byte("ird_data2_iv = not-hex\n"), 0644))
	_, err = LoadKeyRing(dir, custom)
	assert.Error(t, err)
}

func TestLoadNameCodecs(t *testing.T) {
	fs := memFs(t)
	table, err := LoadNameCodecs("/cfg", "")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())

	_, err = LoadNameCodecs("/cfg", "/missing.csv")
	assert.Error(t, err)

	digest := sha1.Sum([]byte("name"))
	line := hex.EncodeToString(digest[:]) + ",cp932\n"
	require.NoError(t, afero.WriteFile(fs, "/cfg/"+NAME_CODECS_FILENAME, []byte(line), 0644))
	table, err = LoadNameCodecs("/cfg", "")
	require.NoError(t, err)
	codec, ok := table.Lookup(digest)
	require.True(t, ok)
	assert.Equal(t, "cp932", codec)
}
