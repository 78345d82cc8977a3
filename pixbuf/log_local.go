package pixbuf

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger Logger = stdLogger{}

type LogConfig struct {
	Logfile    string
	MaxSize    int    `toml:"max_log_size"`
	MaxAge     int    `toml:"max_log_age"`
	MaxBackups int    `toml:"max_log_backups"`
	Format     string // "text" (default) or "json"
	Level      string
}

// SetLogger creates the package logger.  Messages go to a rotating log file if one is
// specified, otherwise to stdout.
func (c *LogConfig) SetLogger() error {
	var cfg LogConfig
	if c != nil {
		cfg = *c
	}
	m, err := ParseLogMode(cfg.Level)
	if err != nil {
		return err
	}
	SetLogMode(m)

	var sink *lumberjack.Logger
	var out io.Writer = os.Stdout
	if cfg.Logfile != "" {
		fmt.Printf("Sending log messages to: %s\n", cfg.Logfile)
		sink = &lumberjack.Logger{
			Filename:   cfg.Logfile,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxAge:     cfg.MaxAge,  // days
			MaxBackups: cfg.MaxBackups,
		}
		out = sink
	}

	switch cfg.Format {
	case "", "text":
		log.SetOutput(out)
		logger = stdLogger{sink}
	case "json":
		logger = newZapLogger(out, sink)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if sink == nil {
		Infof("Sending log messages to stdout since no log file specified.")
	}
	return nil
}

// --- text Logger implementation ----

type stdLogger struct {
	*lumberjack.Logger
}

func (slog stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (slog stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (slog stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (slog stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (slog stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (slog stdLogger) Shutdown() {
	log.Printf("Closing log file...\n")
	if slog.Logger != nil {
		slog.Close()
	}
}

// --- json Logger implementation ----

type zapLogger struct {
	sugar *zap.SugaredLogger
	sink  *lumberjack.Logger
}

func newZapLogger(out io.Writer, sink *lumberjack.Logger) zapLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(out), zapcore.DebugLevel)
	return zapLogger{sugar: zap.New(core).Sugar(), sink: sink}
}

func (z zapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z zapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z zapLogger) Warningf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z zapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Criticalf logs at error level with a critical marker; zap's own fatal levels exit the process.
func (z zapLogger) Criticalf(format string, args ...interface{}) {
	z.sugar.With("critical", true).Errorf(format, args...)
}

func (z zapLogger) Shutdown() {
	_ = z.sugar.Sync()
	if z.sink != nil {
		z.sink.Close()
	}
}
