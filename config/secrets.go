package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// Keys every provider understands
const (
	SecretKeyRootPassword = "root_password"
	SecretKeyAppPassword  = "app_password"
)

// SecretManager interface for retrieving secrets
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetRootPassword() (string, error)
	GetAppPassword() (string, error)
}

// FileSecretManager reads one secret per file, the layout of Docker and Kubernetes secret mounts (default)
type FileSecretManager struct {
	dir   string
	files map[string]string
}

// NewFileSecretManager creates a file manager rooted at dir. files maps secret keys to file names;
// an absolute file name ignores dir.
func NewFileSecretManager(dir string, files map[string]string) *FileSecretManager {
	return &FileSecretManager{dir: dir, files: files}
}

func (f *FileSecretManager) path(key string) string {
	name := key
	if mapped, ok := f.files[key]; ok && mapped != "" {
		name = mapped
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.dir, name)
}

func (f *FileSecretManager) GetSecret(key string) (string, error) {
	path := f.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s does not exist", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	// Secrets created with `echo` carry a trailing newline that is not part of the value
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return "", fmt.Errorf("%w: file %s", ErrEmptySecret, path)
	}
	return value, nil
}

func (f *FileSecretManager) GetRootPassword() (string, error) {
	return f.GetSecret(SecretKeyRootPassword)
}

func (f *FileSecretManager) GetAppPassword() (string, error) {
	return f.GetSecret(SecretKeyAppPassword)
}

// EnvSecretManager uses environment variables
type EnvSecretManager struct{}

var secretEnv = map[string]string{
	SecretKeyRootPassword: "MONGO_INITDB_ROOT_PASSWORD",
	SecretKeyAppPassword:  "MONGO_NON_ROOT_PASSWORD",
}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey, ok := secretEnv[key]
	if !ok {
		envKey = envPrefix + "_" + strings.ToUpper(key)
	}
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, envKey)
	}
	return value, nil
}

func (e *EnvSecretManager) GetRootPassword() (string, error) {
	return e.GetSecret(SecretKeyRootPassword)
}

func (e *EnvSecretManager) GetAppPassword() (string, error) {
	return e.GetSecret(SecretKeyAppPassword)
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	return &VaultSecretManager{
		config: config,
		client: client,
	}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/mongoinit"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: nothing stored at Vault path %s", ErrSecretNotFound, path)
	}

	data := secret.Data
	// KV version 2 nests the payload under "data"
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not found in Vault secret", ErrSecretNotFound, key)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	if strValue == "" {
		return "", fmt.Errorf("%w: Vault key %s", ErrEmptySecret, key)
	}

	return strValue, nil
}

func (v *VaultSecretManager) GetRootPassword() (string, error) {
	return v.GetSecret(SecretKeyRootPassword)
}

func (v *VaultSecretManager) GetAppPassword() (string, error) {
	return v.GetSecret(SecretKeyAppPassword)
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	config *Config
	client *secretsmanager.SecretsManager
	cache  map[string]string
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Secrets.AWS.Region),
	}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}
	if config.Secrets.AWS.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Secrets.AWS.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSecretManager{
		config: config,
		client: secretsmanager.New(sess),
	}, nil
}

func (a *AWSSecretManager) load() (map[string]string, error) {
	if a.cache != nil {
		return a.cache, nil
	}

	secretID := a.config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "mongoinit/secrets"
	}

	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("%w: AWS secret %s has no string value", ErrSecretNotFound, secretID)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
	a.cache = secrets
	return secrets, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	secrets, err := a.load()
	if err != nil {
		return "", err
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not found in AWS secret", ErrSecretNotFound, key)
	}
	if value == "" {
		return "", fmt.Errorf("%w: AWS key %s", ErrEmptySecret, key)
	}
	return value, nil
}

func (a *AWSSecretManager) GetRootPassword() (string, error) {
	return a.GetSecret(SecretKeyRootPassword)
}

func (a *AWSSecretManager) GetAppPassword() (string, error) {
	return a.GetSecret(SecretKeyAppPassword)
}

// NewSecretManager creates the appropriate secret manager based on configuration
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "file"
	}

	switch provider {
	case "file":
		return NewFileSecretManager(config.Secrets.Dir, map[string]string{
			SecretKeyRootPassword: config.Secrets.RootPasswordFile,
			SecretKeyAppPassword:  config.Secrets.AppPasswordFile,
		}), nil
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}
