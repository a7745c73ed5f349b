package logger

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

const (
	LOGGER_FILE = "pstools.log"
)

var (
	logger     *zap.Logger
	winfileReg sync.Once
)

// LogPath returns the log file location inside the working folder.
func LogPath(workingFolder string) string {
	return filepath.Join(workingFolder, LOGGER_FILE)
}

// newConfig builds the development config used by the tools. Debug
// enables the per-field parser output.
func newConfig(logPath string, debug bool) zap.Config {
	config := zap.NewDevelopmentConfig()
	if !debug {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if runtime.GOOS == "windows" {
		winfileReg.Do(func() {
			zap.RegisterSink("winfile", func(u *url.URL) (zap.Sink, error) {
				// url.Parse leaves a leading slash before the drive letter
				return os.OpenFile(u.Path[1:], os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
			})
		})
		logPath = "winfile:///" + logPath
	}

	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.DisableStacktrace = !debug
	return config
}

func newLogger(workingFolder string, debug bool) {
	logPath := LogPath(workingFolder)
	// every run starts a fresh log
	os.Remove(logPath)

	var err error
	logger, err = newConfig(logPath, debug).Build()
	if err != nil {
		fmt.Printf("failed to create logger - %v", err)
		panic(1)
	}
	zap.ReplaceGlobals(logger)
}

// GetSugar returns the process wide sugared logger, creating it on the
// first call.
func GetSugar(workingFolder string, debug bool) *zap.SugaredLogger {
	if logger == nil {
		newLogger(workingFolder, debug)
	}
	return logger.Sugar()
}

// Defer flushes the log file. Call it with defer from main.
func Defer() {
	if logger != nil {
		logger.Sync()
	}
}
