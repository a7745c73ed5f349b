package process

import (
	"testing"

	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRomanizedFolderName(t *testing.T) {
	data := map[string]string{
		settings.TEMPLATE_TITLE_ID:   "npjb00512",
		settings.TEMPLATE_TITLE_NAME: "鉄道にっぽん！路線たび 叡山電車編",
	}
	name := applyTemplate(data, "{TITLE_ID} {TITLE_NAME}", true)
	assert.Regexp(t, `^NPJB00512 `, name)
	assert.NotContains(t, name, "に")
	assert.NotContains(t, name, "た")

	kept := applyTemplate(data, "{TITLE_ID} {TITLE_NAME}", false)
	assert.Equal(t, "NPJB00512 鉄道にっぽん！路線たび 叡山電車編", kept)
}

func TestApplyTemplate(t *testing.T) {
	data := map[string]string{
		settings.TEMPLATE_TITLE_ID:   "BLES00001",
		settings.TEMPLATE_TITLE_NAME: "Game: Part 1/2?",
		settings.TEMPLATE_VERSION:    "",
	}
	assert.Equal(t, "Game- Part 1-2- BLES00001", applyTemplate(data, "{TITLE_NAME} [{VERSION}] {TITLE_ID}", false))
	assert.Equal(t, "BLES00001", applyTemplate(data, "{TITLE_ID}.", false))
	assert.Equal(t, "BLES00001 (GAME_EXEC)", applyTemplate(map[string]string{
		settings.TEMPLATE_TITLE_ID: "bles00001",
		settings.TEMPLATE_TYPE:     "GAME_EXEC",
	}, "{TITLE_ID} ({TYPE})", false))
}

func TestValidateOptions(t *testing.T) {
	assert.NoError(t, ValidateOptions(settings.ExtractOptions{}))
	assert.NoError(t, ValidateOptions(settings.ExtractOptions{CreateFolderPerTitle: true, FolderNameTemplate: "{CONTENT_ID}"}))
	assert.Error(t, ValidateOptions(settings.ExtractOptions{CreateFolderPerTitle: true}))
	assert.Error(t, ValidateOptions(settings.ExtractOptions{CreateFolderPerTitle: true, FolderNameTemplate: "{VERSION}"}))
}

func TestDeleteEmptyFolders(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/lib/a/b/c", 0755))
	require.NoError(t, fs.MkdirAll("/lib/keep", 0755))
	require.NoError(t, afero.WriteFile(fs, "/lib/keep/PARAM.SFO", []byte("x"), 0644))

	require.NoError(t, DeleteEmptyFolders(fs, "/lib"))

	exists, _ := afero.DirExists(fs, "/lib/a")
	assert.False(t, exists)
	exists, _ = afero.DirExists(fs, "/lib/keep")
	assert.True(t, exists)
	exists, _ = afero.DirExists(fs, "/lib")
	assert.True(t, exists)
}
