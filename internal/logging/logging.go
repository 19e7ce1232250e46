package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Setup configures the global zerolog logger. In DEV the output is a
// human-readable console writer; otherwise JSON lines go to both stdout and a
// rotating file under dataFolder/logs. Safe to call multiple times;
// initialization happens only once.
func Setup(env, dataFolder string) {
	setupOnce.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339

		if env == "DEV" {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
			return
		}

		fileWriter := &lumberjack.Logger{
			Filename:   filepath.Join(dataFolder, "logs", "dashie-auth.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		log.Logger = zerolog.New(io.MultiWriter(os.Stdout, fileWriter)).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
}
