package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	SETTINGS_DIR         = "ps-tools"
	SETTINGS_FILENAME    = "settings.json"
	KEYS_FILENAME        = "keys.properties"
	NAME_CODECS_FILENAME = "name_codecs.csv"
	PSTOOLS_VERSION      = "0.3.0"
)

const (
	TEMPLATE_TITLE_ID   = "TITLE_ID"
	TEMPLATE_TITLE_NAME = "TITLE_NAME"
	TEMPLATE_CONTENT_ID = "CONTENT_ID"
	TEMPLATE_VERSION    = "VERSION"
	TEMPLATE_TYPE       = "TYPE"
)

// appFs is where settings are read from and saved to.
var appFs = afero.NewOsFs()

// Setting of the application
type AppSettings struct {
	// Extra internal settings
	// `json:"-"` to ignore when marshalling
	baseFolder string `json:"-"`
	Homedir    string `json:"-"`
	// Unmarshalled from the JSON file
	KeysFile            string         `json:"keys_file"`
	NameCodecsFile      string         `json:"name_codecs_file"`
	ScanFolders         []string       `json:"scan_folders"`
	ScanRecursively     bool           `json:"scan_recursively"`
	VerifyHashes        bool           `json:"verify_hashes"`
	StrictDecompression bool           `json:"strict_decompression"`
	ExtractFolder       string         `json:"extract_folder"`
	RomanizeNames       bool           `json:"romanize_names"`
	Debug               bool           `json:"debug"`
	ExtractOptions      ExtractOptions `json:"extract_options"`
}

// Extraction settings of the application
type ExtractOptions struct {
	CreateFolderPerTitle bool   `json:"create_folder_per_title"`
	FolderNameTemplate   string `json:"folder_name_template"`
	Overwrite            bool   `json:"overwrite"`
}

// NewAppSettings reads the settings of the home dir, falling back to the
// working folder when the home dir is not usable.
func NewAppSettings(workingFolder string) *AppSettings {
	a := AppSettings{}
	a.setBase(workingFolder)
	a.switchToHomedir()
	a.read()
	return &a
}

// ReadSettings reads the settings stored directly in baseFolder.
func ReadSettings(baseFolder string) *AppSettings {
	a := AppSettings{}
	a.setBase(baseFolder)
	a.read()
	return &a
}

func (a *AppSettings) setBase(base string) {
	a.baseFolder = base
}

// BaseFolder is the folder the settings, the key file and the scan cache
// live in.
func (a *AppSettings) BaseFolder() string {
	return a.baseFolder
}

// Switch the settings base folder inside the homedir
func (a *AppSettings) switchToHomedir() {
	var homedirErr error
	a.Homedir, homedirErr = os.UserHomeDir()
	if homedirErr != nil {
		return
	}
	basedir := a.GetHomedirPath()
	if mkDirErr := appFs.MkdirAll(basedir, os.ModePerm); mkDirErr == nil {
		a.setBase(basedir)
	}
}

func (a *AppSettings) GetHomedirPath() string {
	return filepath.Join(a.Homedir, SETTINGS_DIR)
}

func (a *AppSettings) getPath() string {
	return filepath.Join(a.baseFolder, SETTINGS_FILENAME)
}

func (a *AppSettings) read() {
	buf, bufErr := afero.ReadFile(appFs, a.getPath())
	if bufErr != nil {
		zap.S().Warnf("Missing settings file, creating a new one.")
		a.defaults()
		a.Save()
		return
	}
	if jsonErr := a.Load(buf); jsonErr != nil {
		zap.S().Warnf("Corrupted settings file (%v), creating a new one.", jsonErr)
		a.defaults()
		a.Save()
	}
}

// Fill the structure with default values
func (a *AppSettings) defaults() {
	a.KeysFile = ""
	a.NameCodecsFile = ""
	a.ScanFolders = []string{}
	a.ScanRecursively = true
	a.VerifyHashes = true
	a.StrictDecompression = false
	a.ExtractFolder = ""
	a.RomanizeNames = false
	a.Debug = false
	a.ExtractOptions.CreateFolderPerTitle = true
	a.ExtractOptions.FolderNameTemplate = fmt.Sprintf("{%v} {%v}", TEMPLATE_TITLE_ID, TEMPLATE_TITLE_NAME)
	a.ExtractOptions.Overwrite = false
}

// Save writes the settings back to the base folder. Errors are logged only.
func (a *AppSettings) Save() {
	jsonBytes, jsonErr := json.MarshalIndent(a, "", "  ")
	if jsonErr != nil {
		return
	}
	if err := afero.WriteFile(appFs, a.getPath(), jsonBytes, 0644); err != nil {
		zap.S().Warnf("failed to save settings - %v", err)
	}
}

func (a *AppSettings) ToJSON() string {
	jsonBytes, jsonErr := json.MarshalIndent(a, "", "  ")
	if jsonErr != nil {
		return ""
	}
	return string(jsonBytes)
}

// Load a JSON payload
func (a *AppSettings) Load(payload []byte) error {
	return json.Unmarshal(payload, a)
}
