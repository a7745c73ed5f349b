package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Nicba1010/PS-Tools/db"
	"github.com/Nicba1010/PS-Tools/process"
	"github.com/Nicba1010/PS-Tools/psfs"
	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var (
	mode        = flag.String("m", "info", "mode (available options: info / extract / sfo / scan)")
	inputPath   = flag.String("f", "", "path to the input file (info, extract, sfo) or folder (scan)")
	outFolder   = flag.String("o", "", "extraction folder (defaults to extract_folder in settings.json)")
	sfoKey      = flag.String("k", "", "PARAM.SFO key to set")
	sfoValue    = flag.String("v", "", "PARAM.SFO value to set")
	sfoOut      = flag.String("out", "", "write the edited PARAM.SFO here instead of in place")
	recursive   = flag.Bool("r", true, "recursively scan sub folders")
	debug       = flag.Bool("debug", false, "debug logging")
	progressBar *progressbar.ProgressBar
)

type Console struct {
	settings    *settings.AppSettings
	sugarLogger *zap.SugaredLogger
	keys        *psfs.KeyRing
	codecs      *psfs.NameCodecTable
	fs          afero.Fs
	out         io.Writer
}

func CreateConsole(appSettings *settings.AppSettings, sugarLogger *zap.SugaredLogger) (*Console, error) {
	keys, err := settings.LoadKeyRing(appSettings.BaseFolder(), appSettings.KeysFile)
	if err != nil {
		return nil, err
	}
	codecs, err := settings.LoadNameCodecs(appSettings.BaseFolder(), appSettings.NameCodecsFile)
	if err != nil {
		return nil, err
	}
	return &Console{
		settings:    appSettings,
		sugarLogger: sugarLogger,
		keys:        keys,
		codecs:      codecs,
		fs:          afero.NewOsFs(),
		out:         os.Stdout,
	}, nil
}

func (c *Console) Start() error {
	switch *mode {
	case "info":
		return c.info(*inputPath)
	case "extract":
		return c.extract(*inputPath, *outFolder)
	case "sfo":
		return c.editSfo(*inputPath, *sfoKey, *sfoValue, *sfoOut)
	case "scan":
		return c.scan(*inputPath, *recursive)
	}
	flag.Usage()
	return fmt.Errorf("unknown mode %q", *mode)
}

func (c *Console) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(c.out)
	t.SetStyle(table.StyleColoredBright)
	return t
}

func (c *Console) pkgOptions() psfs.PkgOptions {
	return psfs.PkgOptions{
		Keys:       c.keys,
		NameCodecs: c.codecs,
		GuessNames: true,
		SkipVerify: !c.settings.VerifyHashes,
	}
}

func (c *Console) psarcOptions() psfs.PsarcOptions {
	return psfs.PsarcOptions{Decompress: psfs.DecompressOptions{Strict: c.settings.StrictDecompression}}
}

func (c *Console) info(filePath string) error {
	if filePath == "" {
		return errors.New("no input file, use -f")
	}
	format, err := psfs.DetectFile(filePath)
	if err != nil {
		return err
	}
	c.sugarLogger.Infof("%v detected as %v", filePath, format)

	switch format {
	case psfs.FormatPkg:
		pkg, err := psfs.OpenPkg(filePath, c.pkgOptions())
		if err != nil {
			return err
		}
		defer pkg.Close()
		c.printPkg(pkg)
	case psfs.FormatIso:
		iso, err := psfs.OpenISO(filePath)
		if err != nil {
			return err
		}
		defer iso.Close()
		return c.printISO(iso)
	case psfs.FormatIrd:
		ird, err := psfs.OpenIrd(filePath, psfs.IrdOptions{Keys: c.keys, SkipVerify: !c.settings.VerifyHashes})
		if err != nil {
			return err
		}
		c.printIrd(ird)
	case psfs.FormatPsarc:
		psarc, err := psfs.OpenPsarc(filePath, c.psarcOptions())
		if err != nil {
			return err
		}
		defer psarc.Close()
		c.printPsarc(psarc)
	case psfs.FormatSfo:
		sfo, err := psfs.OpenSfo(filePath)
		if err != nil {
			return err
		}
		c.printSfo(sfo)
	case psfs.FormatPfd:
		pfd, err := psfs.OpenPfd(filePath, c.keys)
		if err != nil {
			return err
		}
		c.printPfd(pfd)
	case psfs.FormatEdat:
		edat, err := psfs.OpenEdat(filePath)
		if err != nil {
			return err
		}
		c.printEdat(edat)
	}
	return nil
}

func (c *Console) printPkg(pkg *psfs.Pkg) {
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Content ID", pkg.Header.ContentID},
		{"Revision", pkg.Header.Revision},
		{"Type", pkg.Header.Type},
		{"DRM", pkg.DrmType},
		{"Content type", pkg.ContentType},
		{"Install path", pkg.InstallDirectory},
		{"Title ID", pkg.TitleID},
		{"App version", pkg.AppVersion},
		{"System version", pkg.SystemVersion},
		{"Package version", pkg.PackageVersion},
		{"Size", humanize.Bytes(uint64(pkg.Size))},
	})
	t.Render()

	entries := c.newTable()
	entries.AppendHeader(table.Row{"#", "Name", "Type", "Size"})
	var total uint64
	for _, e := range pkg.Entries {
		size := ""
		if e.IsFile() {
			size = humanize.Bytes(e.FileSize)
			total += e.FileSize
		}
		entries.AppendRow(table.Row{e.Index, e.Name, e.Type, size})
	}
	entries.AppendFooter(table.Row{"", "Total", len(pkg.Entries), humanize.Bytes(total)})
	entries.Render()
}

func (c *Console) printISO(iso *psfs.ISO9660) error {
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	if p := iso.Primary; p != nil {
		t.AppendRows([]table.Row{
			{"System", p.SystemIdentifier},
			{"Volume", p.VolumeIdentifier},
			{"Volume set", p.VolumeSetIdentifier},
			{"Publisher", p.PublisherIdentifier},
			{"Application", p.ApplicationIdentifier},
			{"Blocks", p.VolumeSpaceSize},
			{"Block size", p.LogicalBlockSize},
		})
	}
	t.AppendRow(table.Row{"Descriptors", len(iso.Descriptors)})
	t.AppendRow(table.Row{"Path table records", len(iso.PathTable)})
	t.AppendRow(table.Row{"Size", humanize.Bytes(uint64(iso.Size))})
	t.Render()

	if iso.Primary == nil {
		return nil
	}
	records, err := iso.ReadDirectory(iso.Primary.RootDirectoryRecord)
	if err != nil {
		return err
	}
	root := c.newTable()
	root.AppendHeader(table.Row{"Name", "Directory", "LBA", "Size"})
	for _, r := range records {
		root.AppendRow(table.Row{r.Identifier, r.IsDirectory(), r.LBALocation, humanize.Bytes(uint64(r.DataLength))})
	}
	root.Render()
	return nil
}

func (c *Console) printIrd(ird *psfs.Ird) {
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Version", ird.Version},
		{"Game ID", ird.GameID},
		{"Game name", ird.GameName},
		{"Update version", ird.UpdateVersion},
		{"Game version", ird.GameVersion},
		{"App version", ird.AppVersion},
		{"Regions", len(ird.RegionHashes)},
		{"Files", len(ird.FileHashes)},
		{"Data1", hex.EncodeToString(ird.Data1)},
		{"Data2", hex.EncodeToString(ird.Data2Decrypted)},
		{"CRC", fmt.Sprintf("%08X", ird.CRC)},
	})
	t.Render()
}

func (c *Console) printPsarc(psarc *psfs.Psarc) {
	t := c.newTable()
	t.AppendHeader(table.Row{"#", "Name", "Size"})
	for _, e := range psarc.Entries {
		t.AppendRow(table.Row{e.Index, e.Name, humanize.Bytes(e.DecompressedSize)})
	}
	t.AppendFooter(table.Row{psarc.Header.Version(), psarc.Header.Compression, len(psarc.Entries)})
	t.Render()
}

func (c *Console) printSfo(sfo *psfs.Sfo) {
	t := c.newTable()
	t.AppendHeader(table.Row{"Key", "Type", "Value"})
	for _, key := range sfo.Keys() {
		v, _ := sfo.Value(key)
		t.AppendRow(table.Row{key, v.Type, v.String()})
	}
	t.AppendFooter(table.Row{"Version", sfo.Header.VersionString(), len(sfo.Values)})
	t.Render()
}

func (c *Console) printPfd(pfd *psfs.Pfd) {
	t := c.newTable()
	t.AppendHeader(table.Row{"#", "Name", "Size"})
	for _, f := range pfd.ProtectedFiles {
		t.AppendRow(table.Row{f.VirtualIndex, f.Name, humanize.Bytes(f.FileSize)})
	}
	t.AppendFooter(table.Row{"Version", pfd.Header.Version, pfd.Header.ProtectedFilesUsed})
	t.Render()
}

func (c *Console) printEdat(edat *psfs.Edat) {
	h := edat.Header
	t := c.newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Version", h.Version},
		{"Licence", h.LicenceType},
		{"Application", h.ApplicationType},
		{"Content ID", h.ContentID},
		{"NPD type", h.NpdType},
		{"Metadata", h.MetadataType},
		{"Block size", humanize.Bytes(uint64(h.BlockSize))},
		{"Data size", humanize.Bytes(h.DataSize)},
	})
	t.Render()
}

func (c *Console) extract(filePath string, destination string) error {
	if filePath == "" {
		return errors.New("no input file, use -f")
	}
	if destination == "" {
		destination = c.settings.ExtractFolder
	}
	if destination == "" {
		destination = filepath.Dir(filePath)
	}
	options := process.ExtractOptions{
		ExtractOptions: c.settings.ExtractOptions,
		RomanizeNames:  c.settings.RomanizeNames,
	}

	format, err := psfs.DetectFile(filePath)
	if err != nil {
		return err
	}
	progressBar = progressbar.New(2000)
	defer progressBar.Finish()

	switch format {
	case psfs.FormatPkg:
		pkg, err := psfs.OpenPkg(filePath, c.pkgOptions())
		if err != nil {
			return err
		}
		defer pkg.Close()
		folder, err := process.ExtractPkg(c.fs, pkg, destination, options, c)
		fmt.Fprintf(c.out, "\nExtracted to %v\n", folder)
		return err
	case psfs.FormatPsarc:
		psarc, err := psfs.OpenPsarc(filePath, c.psarcOptions())
		if err != nil {
			return err
		}
		defer psarc.Close()
		return process.ExtractPsarc(c.fs, psarc, destination, options, c)
	}
	return fmt.Errorf("%v files cannot be extracted", format)
}

func (c *Console) editSfo(filePath string, key string, value string, out string) error {
	sfo, err := psfs.LoadSfo(c.fs, filePath)
	if err != nil {
		return err
	}
	if key == "" {
		c.printSfo(sfo)
		return nil
	}
	if err := sfo.SetValue(key, value); err != nil {
		return err
	}
	if err := sfo.Write(c.fs, out); err != nil {
		return err
	}
	c.sugarLogger.Infof("%v set to %q", key, value)
	c.printSfo(sfo)
	return nil
}

func (c *Console) scan(folder string, recursiveMode bool) error {
	folders := append([]string{}, c.settings.ScanFolders...)
	if folder != "" {
		folders = append(folders, folder)
	}
	if len(folders) == 0 {
		return errors.New("no folder to scan, use -f or scan_folders in settings.json")
	}
	// -r=false wins over the settings file
	if recursiveMode {
		recursiveMode = c.settings.ScanRecursively
	}

	persistentDB, err := db.NewPersistentDB(c.settings.BaseFolder())
	if err != nil {
		return fmt.Errorf("failed to create local files db: %w", err)
	}
	defer persistentDB.Close()
	manager := db.NewLocalLibraryManager(persistentDB, c.settings, c.keys, c.codecs)

	progressBar = progressbar.New(2000)
	library, scanErr := manager.CreateLocalLibrary(folders, c, recursiveMode, false)
	progressBar.Finish()
	if scanErr != nil {
		c.sugarLogger.Warnf("scan finished with errors - %v", scanErr)
	}

	fmt.Fprintf(c.out, "\nLocal library: %d titles in %d files\n\n", len(library.Titles), library.NumFiles)
	c.printLibrary(library)
	c.printSkipped(library)
	return scanErr
}

func (c *Console) printLibrary(library *db.LocalLibrary) {
	t := c.newTable()
	t.AppendHeader(table.Row{"#", "Title ID", "Title", "Latest version", "Format", "Files", "Size"})
	for i, title := range library.SortedTitles() {
		latest := title.Latest.Summary
		t.AppendRow(table.Row{i, title.TitleID, title.Title, latest.AppVersion, latest.Format, len(title.Files), humanize.Bytes(uint64(latest.Size))})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(library.Titles)})
	t.Render()
}

func (c *Console) printSkipped(library *db.LocalLibrary) {
	if len(library.Skipped) == 0 {
		return
	}
	fmt.Fprint(c.out, "\nSkipped files:\n\n")
	paths := make([]string, 0, len(library.Skipped))
	reasons := map[string]string{}
	for file, skipped := range library.Skipped {
		paths = append(paths, file.Path())
		reasons[file.Path()] = skipped.ReasonText
	}
	sort.Strings(paths)

	t := c.newTable()
	t.AppendHeader(table.Row{"#", "Skipped file", "Reason"})
	for i, p := range paths {
		t.AppendRow(table.Row{i, p, reasons[p]})
	}
	t.AppendFooter(table.Row{"", "Total", len(library.Skipped)})
	t.Render()
}

func (c *Console) UpdateProgress(curr int, total int, message string) {
	if progressBar == nil {
		return
	}
	progressBar.ChangeMax(total)
	progressBar.Set(curr)
}
