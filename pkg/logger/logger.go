package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zerolog with the bot's field conventions.
type Logger struct {
	zl     zerolog.Logger
	config Config
}

// Config holds logger configuration
type Config struct {
	Level         string
	File          string
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
	Compress      bool
	EnableConsole bool
	EnableJSON    bool
	EnableCaller  bool
	EnableStack   bool
}

// Fields represents structured log fields
type Fields map[string]interface{}

var setupOnce sync.Once

func setupGlobals() {
	setupOnce.Do(func() {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})
}

// New creates a logger writing to the console and/or a rotating file.
func New(config Config) (*Logger, error) {
	setupGlobals()

	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var writers []io.Writer
	if config.EnableConsole {
		if config.EnableJSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, consoleWriter(os.Stdout))
		}
	}

	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		})
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.Caller()
	}

	return &Logger{zl: ctx.Logger(), config: config}, nil
}

// NewWithWriter creates a JSON logger on w. Used by tests that inspect output.
func NewWithWriter(w io.Writer, level string) *Logger {
	setupGlobals()
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		zl:     zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
		config: Config{Level: lvl.String(), EnableStack: true},
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), config: Config{Level: "disabled"}}
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05.000",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-5s", i))
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatCaller: func(i interface{}) string {
			return fmt.Sprintf("<%s>", i)
		},
	}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error logs msg at error level with err attached. err may be nil.
func (l *Logger) Error(msg string, err error, fields ...Fields) {
	l.emit(l.withErr(l.zl.Error(), err), msg, fields)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(msg string, err error, fields ...Fields) {
	l.emit(l.withErr(l.zl.Fatal(), err), msg, fields)
}

func (l *Logger) withErr(event *zerolog.Event, err error) *zerolog.Event {
	if err == nil {
		return event
	}
	if l.config.EnableStack {
		return event.Stack().Err(err)
	}
	return event.Err(err)
}

func (l *Logger) emit(event *zerolog.Event, msg string, fields []Fields) {
	for _, set := range fields {
		for k, v := range set {
			event.Interface(k, v)
		}
	}
	event.Msg(msg)
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields Fields) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger(), config: l.config}
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Fields{"component": component})
}

func (l *Logger) WithGuild(guildID string) *Logger {
	return l.With(Fields{"guild_id": guildID})
}

func (l *Logger) WithSong(songID, title string) *Logger {
	return l.With(Fields{"song_id": songID, "song_title": title})
}

func (l *Logger) WithUser(userID, username string) *Logger {
	return l.With(Fields{"user_id": userID, "username": username})
}

func (l *Logger) logEvent(kind, event string, fields Fields) {
	merged := Fields{"event_type": event}
	for k, v := range fields {
		merged[k] = v
	}
	l.Info(kind, merged)
}

// LogPlaybackEvent logs playback loop transitions (started, finished, skipped).
func (l *Logger) LogPlaybackEvent(event string, fields Fields) {
	l.logEvent("Playback event", event, fields)
}

func (l *Logger) LogQueueEvent(event string, fields Fields) {
	l.logEvent("Queue event", event, fields)
}

func (l *Logger) LogVoiceEvent(event string, fields Fields) {
	l.logEvent("Voice event", event, fields)
}

func (l *Logger) LogResolverEvent(event string, fields Fields) {
	l.logEvent("Resolver event", event, fields)
}

// LogCommandEvent logs the outcome of a chat command.
func (l *Logger) LogCommandEvent(command, userID, guildID string, success bool, duration time.Duration) {
	fields := Fields{
		"command":     command,
		"user_id":     userID,
		"guild_id":    guildID,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
	}
	if success {
		l.Info("Command executed", fields)
		return
	}
	l.Warn("Command failed", fields)
}

func (l *Logger) LogPanic(recovered interface{}, stack []byte) {
	l.Error("Panic recovered", nil, Fields{
		"panic":      fmt.Sprint(recovered),
		"stack":      string(stack),
		"goroutines": runtime.NumGoroutine(),
	})
}

func (l *Logger) LogStartup(version string) {
	l.Info("Application starting", Fields{
		"version":    version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	})
}

func (l *Logger) LogShutdown(reason string, graceful bool) {
	l.Info("Application shutting down", Fields{"reason": reason, "graceful": graceful})
}

// LogConfiguration logs a config summary. Callers pass already-redacted values.
func (l *Logger) LogConfiguration(summary Fields) {
	l.Info("Configuration loaded", summary)
}

func (l *Logger) LogMemoryUsage() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	l.Info("Memory usage", Fields{
		"alloc_mb":       m.Alloc / 1024 / 1024,
		"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
		"sys_mb":         m.Sys / 1024 / 1024,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	})
}

// Level returns the configured level name.
func (l *Logger) Level() string {
	return l.config.Level
}

func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	l.zl = l.zl.Level(lvl)
	l.config.Level = level
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = Nop()
)

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	if l == nil {
		l = Nop()
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the package-level logger. It is never nil.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}
