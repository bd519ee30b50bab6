package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide zap logger. Its level can be changed while
// running; every Component logger follows it.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	// OutputPaths defaults to stderr. Stdout is left alone so the shell
	// can be piped.
	OutputPaths []string
}

// DefaultConfig is JSON at info level.
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// DevelopmentConfig is colored console output at debug level.
func DevelopmentConfig() Config {
	return Config{Level: "debug", Development: true}
}

// FromConfig builds a Config from the env/flag settings. Development mode
// forces debug unless a level was asked for explicitly.
func FromConfig(level string, development bool) Config {
	if development {
		cfg := DevelopmentConfig()
		if level != "" && level != "info" {
			cfg.Level = level
		}
		return cfg
	}
	cfg := DefaultConfig()
	if level != "" {
		cfg.Level = level
	}
	return cfg
}

// New creates a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stderr"}
	}

	atom := zap.NewAtomicLevelAt(level)
	zapCfg := zap.Config{
		Level:             atom,
		Development:       cfg.Development,
		Encoding:          encodingFormat(cfg.Development),
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger, level: atom}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Component returns a named child logger for one subsystem.
func (l *Logger) Component(name string) *zap.Logger {
	if l == nil || l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger.Named(name)
}

// Level returns the current level name.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// SetLevel changes the level of this logger and every child.
func (l *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	prev := l.level.Level()
	l.level.SetLevel(lvl)
	if prev != lvl {
		l.Info("Log level changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", lvl),
		)
	}
	return nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

func encodingFormat(development bool) string {
	if development {
		return "console"
	}
	return "json"
}

// encoderConfig uses zap's short keys on the console and spelled-out keys
// in JSON, where log shippers index them.
func encoderConfig(development bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		FunctionKey:  zapcore.OmitKey,
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	if development {
		cfg.TimeKey, cfg.LevelKey, cfg.NameKey = "T", "L", "N"
		cfg.CallerKey, cfg.MessageKey, cfg.StacktraceKey = "C", "M", "S"
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		return cfg
	}
	cfg.TimeKey, cfg.LevelKey, cfg.NameKey = "timestamp", "level", "logger"
	cfg.CallerKey, cfg.MessageKey, cfg.StacktraceKey = "caller", "message", "stacktrace"
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	return cfg
}
