package cmd

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"ot2-calibration/internal/deploy"
)

// LoadEnvFile loads variables from a dotenv file. Variables already set in
// the environment win.
func LoadEnvFile(configPath string) error {
	if configPath == "" {
		slog.Debug("no env file specified, using os.Environ only")
		return nil
	}

	slog.Debug("loading env from file", "path", configPath)
	if err := godotenv.Load(configPath); err != nil {
		return fmt.Errorf("error loading .env file '%s': %w", configPath, err)
	}
	return nil
}

// InitLogger installs the default slog logger on stderr, and additionally
// on logFile when one is given. The returned func closes the log file.
func InitLogger(level slog.Level, logFile string) (func(), error) {
	var w io.Writer = os.Stderr
	closer := func() {}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), os.ModePerm); err != nil {
			return nil, fmt.Errorf("error creating directory for log file: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		w = io.MultiWriter(f, os.Stderr)
		closer = func() { f.Close() }
	}

	log.SetOutput(w)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return closer, nil
}

// StagingProgress renders a progress bar for file uploads.
func StagingProgress(total int, w io.Writer) func(done, total int, f deploy.StagedFile) {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("staging"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return func(done, total int, f deploy.StagedFile) {
		bar.Describe("staging " + f.Name)
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
		}
	}
}
