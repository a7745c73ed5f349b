package settings

import (
	"path/filepath"

	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// LoadNameCodecs reads the PKG name codec table. The configured file is
// used when set, otherwise name_codecs.csv next to the settings. A missing
// table is empty rather than an error.
func LoadNameCodecs(baseFolder string, namesFile string) (*psfs.NameCodecTable, error) {
	path := namesFile
	if path == "" {
		path = filepath.Join(baseFolder, NAME_CODECS_FILENAME)
	}
	file, err := appFs.Open(path)
	if err != nil {
		if namesFile != "" {
			return nil, err
		}
		return psfs.NewNameCodecTable(), nil
	}
	defer file.Close()

	table, err := psfs.LoadNameCodecTable(file)
	if err != nil {
		return nil, err
	}
	zap.S().Infof("Loaded %v name codecs from %v", table.Len(), path)
	return table, nil
}

// UseFs replaces the filesystem settings and name tables are read from.
// It returns the previous one.
func UseFs(fs afero.Fs) afero.Fs {
	prev := appFs
	appFs = fs
	return prev
}
