package db

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/dustin/go-humanize"
	"github.com/mcuadros/go-version"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DB_TABLE_FILE_SCAN_METADATA = "file-scan-metadata"
)

const (
	REASON_UNSUPPORTED_TYPE = iota
	REASON_DUPLICATE
	REASON_OLD_VERSION
	REASON_MALFORMED_FILE
	REASON_UNRECOGNISED
)

type FileFormat string

const (
	FormatPkg FileFormat = "pkg"
	FormatSfo FileFormat = "sfo"
	FormatIrd FileFormat = "ird"
)

// formatOf maps a file name to the format it is summarised as. Split dump
// parts count as their first part; later parts are not files of their own.
func formatOf(fileName string) (format FileFormat, part bool, ok bool) {
	name := strings.ToLower(fileName)
	if base, first, split := psfs.SplitPart(name); split {
		if !first {
			return "", true, false
		}
		name = base
	}
	ext := filepath.Ext(name)
	switch ext {
	case ".pkg":
		return FormatPkg, false, true
	case ".sfo":
		return FormatSfo, false, true
	case ".ird":
		return FormatIrd, false, true
	}
	return "", false, false
}

type ExtendedFileInfo struct {
	FileName   string
	BaseFolder string
	Size       int64
}

func (e ExtendedFileInfo) Path() string {
	return filepath.Join(e.BaseFolder, e.FileName)
}

// FileSummary is what a scan keeps of a parsed file.
type FileSummary struct {
	Format     FileFormat
	TitleID    string
	ContentID  string
	AppVersion string
	Title      string
	Size       int64
}

type LibraryFile struct {
	ExtendedInfo ExtendedFileInfo
	Summary      FileSummary
}

type SkippedFile struct {
	ReasonCode int
	ReasonText string
}

// LibraryTitle groups every file of one title id. Latest is the file with
// the highest app version.
type LibraryTitle struct {
	TitleID string
	Title   string
	Latest  LibraryFile
	Files   []LibraryFile
}

type LocalLibrary struct {
	Titles   map[string]*LibraryTitle
	Skipped  map[ExtendedFileInfo]SkippedFile
	NumFiles int
}

// SortedTitles returns the titles ordered by title id.
func (l *LocalLibrary) SortedTitles() []*LibraryTitle {
	titles := make([]*LibraryTitle, 0, len(l.Titles))
	for _, t := range l.Titles {
		titles = append(titles, t)
	}
	sort.Slice(titles, func(i, j int) bool {
		return titles[i].TitleID < titles[j].TitleID
	})
	return titles
}

// Local library manager
type LocalLibraryManager struct {
	db       *PersistentDB
	settings *settings.AppSettings
	keys     *psfs.KeyRing
	codecs   *psfs.NameCodecTable
	workers  int
}

func NewLocalLibraryManager(db *PersistentDB, s *settings.AppSettings, keys *psfs.KeyRing, codecs *psfs.NameCodecTable) *LocalLibraryManager {
	return &LocalLibraryManager{
		db:       db,
		settings: s,
		keys:     keys,
		codecs:   codecs,
		workers:  runtime.NumCPU(),
	}
}

func (m *LocalLibraryManager) ClearScanData() error {
	return m.db.ClearTable(DB_TABLE_FILE_SCAN_METADATA)
}

// CreateLocalLibrary scans folders and groups what it finds by title id.
// Files that cannot be used end up in Skipped; the returned error only
// aggregates folders that could not be walked.
func (m *LocalLibraryManager) CreateLocalLibrary(folders []string,
	progress ProgressUpdater, recursive bool, ignoreCache bool) (*LocalLibrary, error) {

	var files []ExtendedFileInfo
	var errs error
	for i, folder := range folders {
		if progress != nil {
			progress.UpdateProgress(i+1, len(folders)+1, "scanning files in "+folder)
		}
		if err := scanFolder(folder, recursive, &files); err != nil {
			zap.S().Errorf("failed scanning folder %v - %v", folder, err)
			errs = multierr.Append(errs, err)
		}
	}

	library := &LocalLibrary{
		Titles:   map[string]*LibraryTitle{},
		Skipped:  map[ExtendedFileInfo]SkippedFile{},
		NumFiles: len(files),
	}
	summaries := m.readSummaries(files, progress, ignoreCache, library.Skipped)
	for i, file := range files {
		if summaries[i] != nil {
			library.add(LibraryFile{ExtendedInfo: file, Summary: *summaries[i]})
		}
	}

	if progress != nil {
		progress.UpdateProgress(len(files), len(files), "Complete")
	}
	return library, errs
}

func scanFolder(folder string, recursive bool, files *[]ExtendedFileInfo) error {
	return filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		//skip hidden files and folders
		if path != folder && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != folder && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		*files = append(*files, ExtendedFileInfo{FileName: d.Name(), BaseFolder: filepath.Dir(path), Size: info.Size()})
		return nil
	})
}

// readSummaries parses the files on a pool of workers. The result is
// indexed like files; nil marks a skipped file.
func (m *LocalLibraryManager) readSummaries(files []ExtendedFileInfo, progress ProgressUpdater,
	ignoreCache bool, skipped map[ExtendedFileInfo]SkippedFile) []*FileSummary {

	summaries := make([]*FileSummary, len(files))
	reasons := make([]*SkippedFile, len(files))

	var mu sync.Mutex
	done := 0
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := m.workers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				summaries[i], reasons[i] = m.getSummary(files[i], ignoreCache)
				if progress != nil {
					mu.Lock()
					done++
					progress.UpdateProgress(done, len(files), "process:"+files[i].FileName)
					mu.Unlock()
				}
			}
		}()
	}
	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, reason := range reasons {
		if reason != nil {
			skipped[files[i]] = *reason
		}
	}
	return summaries
}

func (m *LocalLibraryManager) getSummary(file ExtendedFileInfo, ignoreCache bool) (*FileSummary, *SkippedFile) {
	format, part, ok := formatOf(file.FileName)
	if part {
		return nil, nil
	}
	if !ok {
		return nil, &SkippedFile{ReasonCode: REASON_UNSUPPORTED_TYPE, ReasonText: "file type is not supported"}
	}

	fileKey := file.Path() + "|" + file.FileName + "|" + strconv.FormatInt(file.Size, 10)
	if !ignoreCache {
		summary := &FileSummary{}
		found, err := m.db.GetEntry(DB_TABLE_FILE_SCAN_METADATA, fileKey, summary)
		if err != nil {
			zap.S().Warnf("%v", err)
		}
		if found && err == nil {
			return summary, nil
		}
	}

	summary, err := m.readSummary(file.Path(), format)
	if err != nil {
		zap.S().Errorf("[file:%v] failed to read %v [reason: %v]", file.FileName, format, err)
		return nil, &SkippedFile{ReasonCode: REASON_MALFORMED_FILE, ReasonText: fmt.Sprintf("failed to read %v [reason: %v]", format, err)}
	}
	summary.Size = file.Size
	zap.S().Debugf("%v: %v %v v%v (%v)", file.FileName, summary.TitleID, summary.Title, summary.AppVersion, humanize.Bytes(uint64(file.Size)))

	if err := m.db.AddEntry(DB_TABLE_FILE_SCAN_METADATA, fileKey, summary); err != nil {
		zap.S().Warnf("%v", err)
	}
	return summary, nil
}

func (m *LocalLibraryManager) readSummary(path string, format FileFormat) (*FileSummary, error) {
	switch format {
	case FormatPkg:
		return m.readPkgSummary(path)
	case FormatSfo:
		sfo, err := psfs.OpenSfo(path)
		if err != nil {
			return nil, err
		}
		summary := sfoSummary(sfo)
		summary.Format = FormatSfo
		return summary, nil
	case FormatIrd:
		ird, err := psfs.OpenIrd(path, psfs.IrdOptions{Keys: m.keys, SkipVerify: !m.settings.VerifyHashes})
		if err != nil {
			return nil, err
		}
		return &FileSummary{
			Format:     FormatIrd,
			TitleID:    ird.GameID,
			Title:      ird.GameName,
			AppVersion: ird.AppVersion,
		}, nil
	}
	return nil, fmt.Errorf("unsupported format %v", format)
}

func sfoSummary(sfo *psfs.Sfo) *FileSummary {
	appVersion := sfo.GetString("APP_VER")
	if appVersion == "" {
		appVersion = sfo.GetString("VERSION")
	}
	return &FileSummary{
		TitleID:    sfo.GetString("TITLE_ID"),
		ContentID:  sfo.GetString("CONTENT_ID"),
		Title:      sfo.GetString("TITLE"),
		AppVersion: appVersion,
	}
}

// readPkgSummary takes the ids from the package header and, when the
// package carries one, the title from its PARAM.SFO.
func (m *LocalLibraryManager) readPkgSummary(path string) (*FileSummary, error) {
	pkg, err := psfs.OpenPkg(path, psfs.PkgOptions{
		Keys:       m.keys,
		NameCodecs: m.codecs,
		GuessNames: true,
		SkipVerify: !m.settings.VerifyHashes,
	})
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	summary := &FileSummary{
		Format:     FormatPkg,
		TitleID:    pkg.TitleID,
		ContentID:  pkg.Header.ContentID,
		AppVersion: pkg.AppVersion,
	}
	if summary.TitleID == "" && len(summary.ContentID) >= 16 {
		summary.TitleID = summary.ContentID[7:16]
	}
	sfo, err := pkg.ParamSfo()
	if err != nil {
		zap.S().Warnf("%v: unreadable PARAM.SFO - %v", path, err)
	} else if sfo != nil {
		fromSfo := sfoSummary(sfo)
		summary.Title = fromSfo.Title
		if fromSfo.AppVersion != "" {
			summary.AppVersion = fromSfo.AppVersion
		}
	}
	return summary, nil
}

func normalizedVersion(v string) string {
	if v == "" {
		return "0"
	}
	return v
}

func (l *LocalLibrary) add(file LibraryFile) {
	summary := file.Summary
	if summary.TitleID == "" {
		l.Skipped[file.ExtendedInfo] = SkippedFile{ReasonCode: REASON_UNRECOGNISED, ReasonText: "unable to determine title id"}
		return
	}

	title, ok := l.Titles[summary.TitleID]
	if !ok {
		l.Titles[summary.TitleID] = &LibraryTitle{
			TitleID: summary.TitleID,
			Title:   summary.Title,
			Latest:  file,
			Files:   []LibraryFile{file},
		}
		return
	}
	if title.Title == "" {
		title.Title = summary.Title
	}

	latest := title.Latest
	newVersion := normalizedVersion(summary.AppVersion)
	latestVersion := normalizedVersion(latest.Summary.AppVersion)
	switch {
	case version.Compare(newVersion, latestVersion, ">"):
		if latest.Summary.Format == summary.Format {
			l.Skipped[latest.ExtendedInfo] = SkippedFile{ReasonCode: REASON_OLD_VERSION, ReasonText: "old version, newer version exist locally (" + file.ExtendedInfo.FileName + ")"}
		}
		title.Latest = file
	case version.Compare(newVersion, latestVersion, "=="):
		if latest.Summary.Format == summary.Format {
			zap.S().Warnf("-->Duplicate file found [%v] and [%v]", file.ExtendedInfo.FileName, latest.ExtendedInfo.FileName)
			l.Skipped[file.ExtendedInfo] = SkippedFile{ReasonCode: REASON_DUPLICATE, ReasonText: "duplicate file (" + latest.ExtendedInfo.FileName + ")"}
		}
	default:
		if latest.Summary.Format == summary.Format {
			l.Skipped[file.ExtendedInfo] = SkippedFile{ReasonCode: REASON_OLD_VERSION, ReasonText: "old version, newer version exist locally (" + latest.ExtendedInfo.FileName + ")"}
		}
	}
	title.Files = append(title.Files, file)
}
