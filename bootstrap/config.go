package bootstrap

import (
	"fmt"
	"io"
	"os"

	"mongoinit/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger. The console format uses colored levels;
// "json" switches to the production JSON encoder for log shippers.
// Logs go to stderr so that stdout stays free for command output.
func InitLogger(level, format string) (*zap.Logger, *zap.SugaredLogger, error) {
	return newLogger(level, format, os.Stderr)
}

func newLogger(level, format string, w io.Writer) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: log.level %q: %w", ErrConfig, level, err)
		}
		lvl = parsed
	}

	var encoder zapcore.Encoder
	switch format {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the configuration. Every failure wraps ErrConfig.
func InitConfig(path string, overrides map[string]interface{}) (*config.Config, error) {
	cfg, err := config.LoadConfig(path, overrides)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load config: %w", ErrConfig, err)
	}
	return cfg, nil
}

// LogConfig reports where settings came from and the non-secret identifiers of the run.
func LogConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	if cfg.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	} else {
		sugar.Infow("Config file loaded", "path", cfg.ConfigFileUsed())
	}

	sugar.Infow("Config loaded",
		"database", cfg.Target.Database,
		"collection", cfg.Target.Collection,
		"admin_user", cfg.Admin.Username,
		"app_user", cfg.App.Username,
		"app_role", cfg.App.Role,
		"conflict_policy", string(cfg.App.ConflictPolicy),
		"secrets_provider", cfg.Secrets.Provider)
}
