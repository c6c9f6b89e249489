// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"dnc-service/internal/config"
	"dnc-service/internal/model"
)

// defaultLogFile is used when file output is selected without a path
const defaultLogFile = "./logs/dnc-service.log"

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"fatal": zapcore.FatalLevel,
}

// NewLogger builds the service logger. Output is stdout, stderr or a
// file path rotated by lumberjack; errors carry a stack trace.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, ok := logLevels[cfg.Level]
	if !ok {
		return nil, fmt.Errorf("failed to create logger: invalid log level: %s", cfg.Level)
	}

	sink, err := logSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	core := zapcore.NewCore(logEncoder(cfg.Format), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// logEncoder returns a JSON encoder unless the console format is requested
func logEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.LevelKey = "level"
	ec.CallerKey = "caller"
	ec.MessageKey = "message"
	ec.StacktraceKey = "stacktrace"
	ec.EncodeCaller = zapcore.ShortCallerEncoder

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		return zapcore.NewConsoleEncoder(ec)
	}
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	return zapcore.NewJSONEncoder(ec)
}

func logSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}

	path := cfg.Output
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}), nil
}

// ConnectionLogger wraps zap.Logger with controller endpoint context
type ConnectionLogger struct {
	*zap.Logger
	key string
}

// NewConnectionLogger creates an endpoint-specific logger
func NewConnectionLogger(baseLogger *zap.Logger, params model.ConnectionParams) *ConnectionLogger {
	logger := baseLogger.With(
		zap.String("vendor", string(params.Vendor)),
		zap.String("transport", string(params.Transport)),
		zap.String("address", params.Address()),
		zap.String("component", "connection"),
	)

	return &ConnectionLogger{
		Logger: logger,
		key:    params.Key(),
	}
}

// LogConnection logs connect and disconnect attempts
func (cl *ConnectionLogger) LogConnection(action string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("key", cl.key),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil),
	}

	if err != nil {
		fields = append(fields, zap.String("error_kind", string(model.KindOf(err))), zap.Error(err))
		cl.Error("Connection event", fields...)
	} else {
		cl.Info("Connection event", fields...)
	}
}

// LogStatus logs a supervisor state transition
func (cl *ConnectionLogger) LogStatus(from, to model.ConnectionState, message string) {
	level := zapcore.InfoLevel
	if to == model.StateError {
		level = zapcore.WarnLevel
	}

	if ce := cl.Check(level, "Connection state changed"); ce != nil {
		ce.Write(
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("message", message),
		)
	}
}

// LogHealth logs command statistics
func (cl *ConnectionLogger) LogHealth(snapshot model.StatsSnapshot) {
	cl.Info("Connection health",
		zap.Int64("total_commands", snapshot.TotalCommands),
		zap.Float64("success_rate", snapshot.SuccessRate),
		zap.Duration("average_latency", snapshot.AverageLatency),
	)
}

// CommandLogger provides structured logging for one command
type CommandLogger struct {
	logger    *zap.Logger
	commandID string
	startTime time.Time
}

// NewCommandLogger creates a command-specific logger
func NewCommandLogger(baseLogger *zap.Logger, cmd *model.Command) *CommandLogger {
	logger := baseLogger.With(
		zap.String("command_id", cmd.ID),
		zap.String("kind", string(cmd.Kind)),
		zap.String("component", "command"),
	)

	return &CommandLogger{
		logger:    logger,
		commandID: cmd.ID,
		startTime: time.Now(),
	}
}

// Start logs command start
func (cl *CommandLogger) Start(fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Time("start_time", cl.startTime),
	}, fields...)

	cl.logger.Debug("Command started", allFields...)
}

// Warn logs a non fatal finding about the command
func (cl *CommandLogger) Warn(message string, fields ...zap.Field) {
	cl.logger.Warn(message, fields...)
}

// Success logs successful command completion
func (cl *CommandLogger) Success(fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Duration("elapsed", time.Since(cl.startTime)),
		zap.Bool("success", true),
	}, fields...)

	cl.logger.Info("Command completed", allFields...)
}

// Failure logs command failure
func (cl *CommandLogger) Failure(err error, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.Duration("elapsed", time.Since(cl.startTime)),
		zap.Bool("success", false),
		zap.String("error_kind", string(model.KindOf(err))),
		zap.Error(err),
	}, fields...)

	cl.logger.Error("Command failed", allFields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	logger := baseLogger.With(
		zap.String("service", serviceName),
		zap.String("component", "service"),
	)

	return &ServiceLogger{
		Logger:      logger,
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs HTTP API requests
func (sl *ServiceLogger) LogAPIRequest(method, path, userAgent, clientIP, requestID string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.String("user_agent", userAgent),
			zap.String("client_ip", clientIP),
			zap.String("request_id", requestID),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// LoggerWithRequestID adds request ID to logger
func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// CloseLogger flushes buffered log entries
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
