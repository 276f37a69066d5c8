package logs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New tworzy logger piszący do pliku (append) i opcjonalnie na konsolę.
// Pusty logFilePath = tylko konsola.
func New(logFilePath string, withConsole bool, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if logFilePath != "" {
		logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal().Err(err).Str("path", logFilePath).Msg("cannot open log file")
		}
		writers = append(writers, logFile)
	}
	if withConsole || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	var writer io.Writer = writers[0]
	if len(writers) > 1 {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(writer).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Caller().
		Logger()

	// globalny logger dla miejsc bez wstrzykniętego loggera
	log.Logger = logger

	return logger
}

// ParseLevel mapuje nazwę poziomu na zerolog; nieznana nazwa = info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
