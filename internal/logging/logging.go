// Package logging provides the engine's structured logger. Every
// component logs through a *zap.Logger passed down from engine.Open,
// never through the stdlib log package or fmt.Printf.
package logging

import (
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a production logger that writes JSON lines through a
// rotating file sink under <data_dir>/log/engine.log. Callers that want
// a different sink (tests, embedders with their own logging) should
// build their own *zap.Logger and pass it via Config instead of calling
// New.
func New(dataDir string) *zap.Logger {
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, "log", "engine.log"),
		MaxSize:    10, // MiB
		MaxBackups: 5,
		Compress:   true,
	}
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(sink), zap.InfoLevel)
	return zap.New(core)
}

// Noop returns a logger that discards everything, used by default in
// tests that don't care about log output.
func Noop() *zap.Logger { return zap.NewNop() }
