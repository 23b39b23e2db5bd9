package logger

import (
	"go.uber.org/zap"
)

var (
	// Logger is the package-wide structured logger.
	Logger *zap.SugaredLogger
	// JSONOutput tracks whether the active logger emits JSON.
	JSONOutput bool
)

func init() {
	// Safe no-op logger so early package-load code never hits a nil pointer.
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output is appropriate for
// production/container deployments; console output is easier to read
// when running scbe serve on a workstation. verbosity comes from the
// repeated -v flag on the CLI (see VerbosityToLevel).
func Initialize(jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput

	var config zap.Config
	if jsonOutput {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(VerbosityToLevel(verbosity))

	zapLogger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = zapLogger.Sugar()
	return nil
}

// Cleanup flushes any buffered log entries. On Linux/macOS, Sync on
// stdout/stderr can return EINVAL; callers may ignore the error.
func Cleanup() error {
	if Logger != nil {
		return Logger.Sync()
	}
	return nil
}

func Info(args ...interface{})                 { Logger.Info(args...) }
func Infof(format string, args ...interface{}) { Logger.Infof(format, args...) }
func Infow(msg string, kv ...interface{})      { Logger.Infow(msg, kv...) }

func Error(args ...interface{})                 { Logger.Error(args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Errorw(msg string, kv ...interface{})      { Logger.Errorw(msg, kv...) }

func Warn(args ...interface{})                 { Logger.Warn(args...) }
func Warnf(format string, args ...interface{}) { Logger.Warnf(format, args...) }
func Warnw(msg string, kv ...interface{})      { Logger.Warnw(msg, kv...) }

func Debug(args ...interface{})                 { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Debugw(msg string, kv ...interface{})      { Logger.Debugw(msg, kv...) }
