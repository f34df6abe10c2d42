package bootstrap

import (
	"mongoinit/config"
	"mongoinit/storage"

	"go.uber.org/zap"
)

// StorageOptions maps the mongodb section of the configuration to driver options.
func StorageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		URI:                    cfg.MongoDB.URI,
		Host:                   cfg.MongoDB.Host,
		Port:                   cfg.MongoDB.Port,
		ReplicaSet:             cfg.MongoDB.ReplicaSet,
		Direct:                 cfg.MongoDB.DirectConnection,
		TLS:                    cfg.MongoDB.TLS,
		AppName:                cfg.MongoDB.AppName,
		ConnectTimeout:         cfg.MongoDB.ConnectTimeout,
		ServerSelectionTimeout: cfg.MongoDB.ServerSelectionTimeout,
		OperationTimeout:       cfg.MongoDB.OperationTimeout,
	}
}

// InitDialer creates the MongoDB dialer every session of the run is opened with.
func InitDialer(cfg *config.Config, sugar *zap.SugaredLogger) *storage.MongoDialer {
	dialer := storage.NewMongoDialer(StorageOptions(cfg), sugar)
	sugar.Infow("MongoDB target", "uri", dialer.URI())
	return dialer
}
