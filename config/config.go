package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ConflictPolicy decides what happens when the application user already exists
type ConflictPolicy string

const (
	// ConflictPolicySkip leaves an existing user untouched (default)
	ConflictPolicySkip ConflictPolicy = "skip"
	// ConflictPolicyUpdate rewrites password, mechanisms and roles of an existing user
	ConflictPolicyUpdate ConflictPolicy = "update"
	// ConflictPolicyFail aborts when the user already exists
	ConflictPolicyFail ConflictPolicy = "fail"
)

const envPrefix = "MONGOINIT"

// legacyEnv maps setting keys to the unprefixed variables the container image already sets.
var legacyEnv = map[string]string{
	"admin.username":    "MONGO_INITDB_ROOT_USERNAME",
	"target.database":   "MONGO_INITDB_DATABASE",
	"target.collection": "MONGO_INITDB_COLLECTION",
	"app.username":      "MONGO_NON_ROOT_USERNAME",
	"mongodb.uri":       "MONGO_URI",
}

// Config holds all configuration for a bootstrap run
type Config struct {
	MongoDB struct {
		URI                    string        `mapstructure:"uri"`
		Host                   string        `mapstructure:"host"`
		Port                   int           `mapstructure:"port" validate:"min=0,max=65535"`
		ReplicaSet             string        `mapstructure:"replica_set"`
		DirectConnection       bool          `mapstructure:"direct_connection"`
		TLS                    bool          `mapstructure:"tls"`
		AppName                string        `mapstructure:"app_name"`
		ConnectTimeout         time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
		ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout" validate:"gt=0"`
		OperationTimeout       time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
		ConnectRetries         int           `mapstructure:"connect_retries" validate:"min=0,max=10"`
	} `mapstructure:"mongodb"`

	// Admin is the administrative credential; its password comes from the secret manager
	Admin struct {
		Username   string `mapstructure:"username" validate:"required"`
		AuthSource string `mapstructure:"auth_source" validate:"required,mongodb_name"`
		Mechanism  string `mapstructure:"mechanism" validate:"omitempty,oneof=SCRAM-SHA-1 SCRAM-SHA-256"`
	} `mapstructure:"admin"`

	Target struct {
		Database   string `mapstructure:"database" validate:"required,mongodb_user_db"`
		Collection string `mapstructure:"collection" validate:"required,mongodb_collection"`
	} `mapstructure:"target"`

	// App is the application credential scoped to Target.Database
	App struct {
		Username       string         `mapstructure:"username" validate:"required"`
		Role           string         `mapstructure:"role" validate:"required,oneof=read readWrite dbAdmin dbOwner userAdmin"`
		Mechanism      string         `mapstructure:"mechanism" validate:"required,oneof=SCRAM-SHA-1 SCRAM-SHA-256"`
		ConflictPolicy ConflictPolicy `mapstructure:"conflict_policy" validate:"required,oneof=skip update fail"`
	} `mapstructure:"app"`

	Secrets struct {
		Provider         string `mapstructure:"provider" validate:"required,oneof=file env vault aws"`
		Dir              string `mapstructure:"dir"`
		RootPasswordFile string `mapstructure:"root_password_file"`
		AppPasswordFile  string `mapstructure:"app_password_file"`
		Vault            struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
			Endpoint  string `mapstructure:"endpoint"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	PasswordPolicy struct {
		Enforce        bool `mapstructure:"enforce"`
		MinLength      int  `mapstructure:"min_length" validate:"min=0"`
		RequireClasses int  `mapstructure:"require_classes" validate:"min=0,max=4"`
	} `mapstructure:"password_policy"`

	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=console json"`
	} `mapstructure:"log"`

	Metrics struct {
		// TextfilePath is written in node-exporter textfile format after each run when set
		TextfilePath string `mapstructure:"textfile_path"`
	} `mapstructure:"metrics"`

	// Timeout bounds the whole run
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	configFile string
}

// ConfigFileUsed returns the config file that was read, or "" when only defaults and env applied
func (c *Config) ConfigFileUsed() string {
	return c.configFile
}

// EnvNameFor returns the environment variable reported to operators for a setting key.
func EnvNameFor(key string) string {
	if name, ok := legacyEnv[key]; ok {
		return name
	}
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.host", "localhost")
	v.SetDefault("mongodb.port", 27017)
	v.SetDefault("mongodb.replica_set", "")
	v.SetDefault("mongodb.direct_connection", true)
	v.SetDefault("mongodb.tls", false)
	v.SetDefault("mongodb.app_name", "mongoinit")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("mongodb.server_selection_timeout", 10*time.Second)
	v.SetDefault("mongodb.operation_timeout", 10*time.Second)
	v.SetDefault("mongodb.connect_retries", 3)

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.auth_source", "admin")
	v.SetDefault("admin.mechanism", "")

	v.SetDefault("target.database", "")
	v.SetDefault("target.collection", "")

	v.SetDefault("app.username", "")
	v.SetDefault("app.role", "dbOwner")
	v.SetDefault("app.mechanism", "SCRAM-SHA-256")
	v.SetDefault("app.conflict_policy", string(ConflictPolicySkip))

	v.SetDefault("secrets.provider", "file")
	v.SetDefault("secrets.dir", "/run/secrets")
	v.SetDefault("secrets.root_password_file", "mongodb_root_password")
	v.SetDefault("secrets.app_password_file", "mongodb_user_password")
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", "secret/mongoinit")
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
	v.SetDefault("secrets.aws.secret_id", "mongoinit/secrets")
	v.SetDefault("secrets.aws.endpoint", "")

	v.SetDefault("password_policy.enforce", false)
	v.SetDefault("password_policy.min_length", 12)
	v.SetDefault("password_policy.require_classes", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("timeout", 60*time.Second)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Prefixed names take precedence over the image's unprefixed ones
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from defaults, an optional yaml file and the environment.
// overrides are applied last (command-line flags).
func LoadConfig(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mongoinit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mongoinit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.configFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required identifiers and value ranges
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		return translateValidationError(err)
	}
	if c.Secrets.Provider == "vault" && c.Secrets.Vault.Address == "" {
		return fmt.Errorf("%w: secrets.vault.address (set %s)", ErrMissingSetting, EnvNameFor("secrets.vault.address"))
	}
	return nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = validate.RegisterValidation("mongodb_name", func(fl validator.FieldLevel) bool {
		return ValidDatabaseName(fl.Field().String())
	})
	_ = validate.RegisterValidation("mongodb_user_db", func(fl validator.FieldLevel) bool {
		return ValidTargetDatabaseName(fl.Field().String())
	})
	_ = validate.RegisterValidation("mongodb_collection", func(fl validator.FieldLevel) bool {
		return ValidCollectionName(fl.Field().String())
	})
	return validate
}

func translateValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}

	sentinel := ErrInvalidSetting
	problems := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		key := fe.Namespace()
		if i := strings.Index(key, "."); i >= 0 {
			key = key[i+1:]
		}
		if fe.Tag() == "required" {
			sentinel = ErrMissingSetting
			problems = append(problems, fmt.Sprintf("%s (set %s)", key, EnvNameFor(key)))
			continue
		}
		problems = append(problems, fmt.Sprintf("%s=%v does not satisfy %s", key, fe.Value(), describeTag(fe)))
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(problems, "; "))
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// ValidDatabaseName applies MongoDB's database naming restrictions
func ValidDatabaseName(name string) bool {
	if name == "" || len(name) >= 64 {
		return false
	}
	return !strings.ContainsAny(name, "/\\. \"$*<>:|?\x00")
}

// reservedDatabases hold server and cluster state
var reservedDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// ValidTargetDatabaseName accepts valid database names other than admin, local and config
func ValidTargetDatabaseName(name string) bool {
	return ValidDatabaseName(name) && !reservedDatabases[strings.ToLower(name)]
}

// ValidCollectionName applies MongoDB's collection naming restrictions
func ValidCollectionName(name string) bool {
	if name == "" || strings.HasPrefix(name, "system.") {
		return false
	}
	return !strings.ContainsAny(name, "$\x00")
}
