package logger

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	rotator   io.Closer
	rotatorMu sync.Mutex
)

// Logger wraps logrus.Entry so fields can travel through a context.Context.
type Logger struct {
	*logrus.Entry
}

// Config holds logger configuration. Zero values fall back to Options().
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // overrides stdout/file selection when set
	ServiceName string
	Environment string // local writes to stdout only

	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options reads the logger configuration from LOG_* environment variables.
func Options() *Config {
	return &Config{
		Level:       env("LOG_LEVEL", "info"),
		Format:      env("LOG_FORMAT", "json"),
		ServiceName: env("SERVICE_NAME", "animerec"),
		Environment: env("APP_ENV", "local"),
		File:        env("LOG_FILE", "./logs/animerec.log"),
		FileOnly:    envBool("LOG_FILE_ONLY", false),
		MaxSizeMB:   envInt("LOG_MAX_SIZE", 100),
		MaxBackups:  envInt("LOG_MAX_BACKUPS", 7),
		MaxAgeDays:  envInt("LOG_MAX_AGE", 30),
		Compress:    envBool("LOG_COMPRESS", true),
	}
}

// New builds a Logger. A nil cfg reads the environment.
// Outside the local environment output is teed into a lumberjack-rotated file.
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = Options()
	}

	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(true)

	const tsFormat = "2006-01-02T15:04:05.000Z07:00"
	if strings.EqualFold(cfg.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  tsFormat,
			CallerPrettyfier: shortCaller,
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: tsFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
			CallerPrettyfier: shortCaller,
		})
	}

	log.SetOutput(outputFor(cfg))

	service := cfg.ServiceName
	if service == "" {
		service = "animerec"
	}
	return &Logger{Entry: log.WithField("service", service)}
}

func outputFor(cfg *Config) io.Writer {
	if cfg.Output != nil {
		return cfg.Output
	}
	local := cfg.Environment == "" || cfg.Environment == "local"

	var writers []io.Writer
	if local || !cfg.FileOnly {
		writers = append(writers, os.Stdout)
	}
	if !local && cfg.File != "" {
		w := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, w)

		rotatorMu.Lock()
		rotator = w
		rotatorMu.Unlock()
	}
	if len(writers) == 0 {
		return os.Stdout
	}
	return io.MultiWriter(writers...)
}

// Sync closes the rotated log file, if any. Call it before exit.
func Sync() error {
	rotatorMu.Lock()
	defer rotatorMu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{Entry: l.Entry.WithField(key, value)}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{Entry: l.Entry.WithError(err)}
}

// shortCaller trims the caller down to pkg.Func and file:line.
func shortCaller(frame *runtime.Frame) (string, string) {
	fn := frame.Function
	if idx := strings.LastIndex(fn, "/"); idx != -1 {
		fn = fn[idx+1:]
	}
	return fn, filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

// Package-level helpers that log through the default logger.

func Debug(format string, args ...interface{}) { GetDefault().Debugf(format, args...) }
func Info(format string, args ...interface{})  { GetDefault().Infof(format, args...) }
func Warn(format string, args ...interface{})  { GetDefault().Warnf(format, args...) }
func Error(format string, args ...interface{}) { GetDefault().Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { GetDefault().Fatalf(format, args...) }
