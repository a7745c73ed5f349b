package process

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Nicba1010/PS-Tools/db"
	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type ExtractOptions struct {
	settings.ExtractOptions
	RomanizeNames bool
}

// entryPath maps an archive name below destination. Names that would leave
// destination are rejected.
func entryPath(destination string, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("empty entry name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("entry name %q leaves the destination", name)
		}
	}
	return filepath.Join(destination, filepath.FromSlash(clean[1:])), nil
}

// shouldWrite reports whether target may be (re)written.
func shouldWrite(fs afero.Fs, target string, overwrite bool) (bool, error) {
	exists, err := afero.Exists(fs, target)
	if err != nil {
		return false, err
	}
	if exists && !overwrite {
		zap.S().Infof("Skipping existing file %v", target)
		return false, nil
	}
	return true, nil
}

func writeEntry(fs afero.Fs, target string, r io.Reader) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return 0, err
	}
	file, err := fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(file, r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return written, err
}

// ExtractEntry writes one package entry below destination: folders are
// created, files are decrypted into place. It reports whether anything was
// written.
func ExtractEntry(fs afero.Fs, pkg *psfs.Pkg, entry *psfs.PkgEntry, destination string, overwrite bool) (bool, error) {
	target, err := entryPath(destination, entry.Name)
	if err != nil {
		return false, err
	}
	if !entry.IsFile() {
		return true, fs.MkdirAll(target, os.ModePerm)
	}
	write, err := shouldWrite(fs, target, overwrite)
	if err != nil || !write {
		return false, err
	}
	written, err := writeEntry(fs, target, pkg.EntryReader(entry))
	if err != nil {
		return false, fmt.Errorf("failed to extract %v: %w", entry.Name, err)
	}
	zap.S().Debugf("Extracted %v (%v)", entry.Name, humanize.Bytes(uint64(written)))
	return true, nil
}

// PkgFolderName names the per title folder of a package.
func PkgFolderName(pkg *psfs.Pkg, options ExtractOptions) string {
	templateData := map[string]string{
		settings.TEMPLATE_TITLE_ID:   pkg.TitleID,
		settings.TEMPLATE_CONTENT_ID: pkg.Header.ContentID,
		settings.TEMPLATE_VERSION:    pkg.AppVersion,
		settings.TEMPLATE_TYPE:       pkg.ContentType.String(),
	}
	sfo, err := pkg.ParamSfo()
	if err != nil {
		zap.S().Warnf("failed to read PARAM.SFO - %v", err)
	} else if sfo != nil {
		templateData[settings.TEMPLATE_TITLE_NAME] = sfo.GetString("TITLE")
		if templateData[settings.TEMPLATE_TITLE_ID] == "" {
			templateData[settings.TEMPLATE_TITLE_ID] = sfo.GetString("TITLE_ID")
		}
	}
	name := applyTemplate(templateData, options.FolderNameTemplate, options.RomanizeNames)
	if name == "" {
		return cleanName(pkg.Header.ContentID)
	}
	return name
}

// ExtractPkg writes every entry of pkg below destination and returns the
// folder used. Failed entries do not stop the extraction; their errors are
// combined.
func ExtractPkg(fs afero.Fs, pkg *psfs.Pkg, destination string, options ExtractOptions, progress db.ProgressUpdater) (string, error) {
	if err := ValidateOptions(options.ExtractOptions); err != nil {
		return "", err
	}
	if options.CreateFolderPerTitle {
		destination = filepath.Join(destination, PkgFolderName(pkg, options))
	}
	if err := fs.MkdirAll(destination, os.ModePerm); err != nil {
		return "", err
	}
	zap.S().Infof("Extracting %v entries to %v", len(pkg.Entries), destination)

	var errs error
	for i, entry := range pkg.Entries {
		if progress != nil {
			progress.UpdateProgress(i+1, len(pkg.Entries), entry.Name)
		}
		if _, err := ExtractEntry(fs, pkg, entry, destination, options.Overwrite); err != nil {
			zap.S().Errorf("%v", err)
			errs = multierr.Append(errs, err)
		}
	}
	return destination, errs
}

// ExtractPsarc writes every named entry of an archive below destination.
// The manifest itself is not written.
func ExtractPsarc(fs afero.Fs, psarc *psfs.Psarc, destination string, options ExtractOptions, progress db.ProgressUpdater) error {
	if err := fs.MkdirAll(destination, os.ModePerm); err != nil {
		return err
	}

	var errs error
	for i, entry := range psarc.Entries {
		if progress != nil {
			progress.UpdateProgress(i+1, len(psarc.Entries), entry.Name)
		}
		if entry.Name == "" {
			continue
		}
		target, err := entryPath(destination, entry.Name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		write, err := shouldWrite(fs, target, options.Overwrite)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !write {
			continue
		}
		r, err := psarc.EntryReader(entry)
		if err == nil {
			_, err = writeEntry(fs, target, r)
		}
		if err != nil {
			zap.S().Errorf("failed to extract %v - %v", entry.Name, err)
			errs = multierr.Append(errs, fmt.Errorf("failed to extract %v: %w", entry.Name, err))
		}
	}
	return errs
}
