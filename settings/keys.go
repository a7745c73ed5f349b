package settings

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/magiconair/properties"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// keyFileCandidates lists the key files in lookup order. The first one that
// loads wins.
func keyFileCandidates(baseFolder string, keysFile string) []string {
	var candidates []string
	if keysFile != "" {
		candidates = append(candidates, keysFile)
	}
	return append(candidates,
		filepath.Join(baseFolder, KEYS_FILENAME),
		"${HOME}/.ps-tools/"+KEYS_FILENAME,
	)
}

// LoadKeyRing returns the built in keys overridden by the first key file
// found. No key file at all is not an error.
func LoadKeyRing(baseFolder string, keysFile string) (*psfs.KeyRing, error) {
	for _, path := range keyFileCandidates(baseFolder, keysFile) {
		p, err := properties.LoadFile(path, properties.UTF8)
		if err != nil {
			continue
		}
		zap.S().Infof("Loading keys from %v", path)
		keys, err := ParseKeyRing(p)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", path, err)
		}
		return keys, nil
	}
	zap.S().Infof("No key file found, using built in keys")
	return psfs.DefaultKeyRing(), nil
}

// ParseKeyRing applies hex encoded overrides on top of the built in keys.
// Every malformed value is reported.
func ParseKeyRing(p *properties.Properties) (*psfs.KeyRing, error) {
	keys := psfs.DefaultKeyRing()
	known := map[string]bool{}
	for _, name := range keys.Names() {
		known[name] = true
	}

	var errs error
	for _, name := range p.Keys() {
		value, _ := p.Get(name)
		b, err := hex.DecodeString(value)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("key %v is not valid hex: %w", name, err))
			continue
		}
		if len(b) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("key %v is empty", name))
			continue
		}
		if !known[name] {
			zap.S().Warnf("unknown key %v in key file", name)
		}
		keys.SetKey(name, b)
	}
	if errs != nil {
		return nil, errs
	}
	return keys, nil
}
