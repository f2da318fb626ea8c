package obs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.SugaredLogger
)

// Logger returns the shared structured logger. Level defaults to info and can
// be lowered with LOG_LEVEL=debug.
func Logger() *zap.SugaredLogger {
	loggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		if os.Getenv("LOG_LEVEL") == "debug" {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		} else {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			// A process that cannot log must not run quietly.
			panic("obs: build logger: " + err.Error())
		}
		logger = l.Sugar()
	})
	return logger
}

// ReplaceLoggerForTests swaps the shared logger and returns a restore func.
func ReplaceLoggerForTests(l *zap.SugaredLogger) func() {
	Logger()
	prev := logger
	logger = l
	return func() { logger = prev }
}
