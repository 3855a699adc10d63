// Package logging builds the server's zap logger and adapts it to the
// infrared adapter's Logger interface.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hcitlab/irgen/openni/ir"
)

// Config describes where and how much to log.
// Output is one of console, file, or both.
type Config struct {
	Level      string `yaml:"Level" koanf:"Level"`
	Output     string `yaml:"Output" koanf:"Output"`
	FilePath   string `yaml:"FilePath" koanf:"FilePath"`
	MaxSize    int    `yaml:"MaxSize" koanf:"MaxSize"`
	MaxBackups int    `yaml:"MaxBackups" koanf:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge" koanf:"MaxAge"`
}

// DefaultConfig logs info and above to the console
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     "console",
		FilePath:   "logs/irgen-http.log",
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// New returns a logger for cfg, and a closer for its file, if any.
// An unparseable level falls back to info.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stdout)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newLogger(cfg Config, console zapcore.WriteSyncer) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	var (
		core   zapcore.Core
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "file", "both":
		fw, err := fileWriter(cfg)
		if err != nil {
			return nil, nil, err
		}
		closer = fw
		core = zapcore.NewCore(fileEncoder, zapcore.AddSync(fw), level)
		if cfg.Output == "both" {
			core = zapcore.NewTee(zapcore.NewCore(consoleEncoder, console, level), core)
		}
	default:
		core = zapcore.NewCore(consoleEncoder, console, level)
	}
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), closer, nil
}

func fileWriter(cfg Config) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		LocalTime:  true,
		Compress:   true,
	}, nil
}

// Sink adapts a zap logger to ir.Logger
type Sink struct {
	L *zap.Logger
}

// Log writes msg at the zap level matching sev
func (s Sink) Log(sev ir.Severity, msg string) {
	switch sev {
	case ir.SeverityDebug:
		s.L.Debug(msg)
	case ir.SeverityInfo:
		s.L.Info(msg)
	case ir.SeverityWarn:
		s.L.Warn(msg)
	default:
		s.L.Error(msg)
	}
}

var _ ir.Logger = Sink{}
