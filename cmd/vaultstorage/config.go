// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// config is the process configuration, loaded via viper from a config
// file and environment variables (VAULTSTORAGE_ prefix), environment
// variables taking precedence. No command-line flag is bound to a key.
type config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	ControlPlaneDSN string `mapstructure:"control_plane_dsn"`
	RedisAddr       string `mapstructure:"redis_addr"`

	BlobBackend  string `mapstructure:"blob_backend"` // "fs" or "s3"
	FSRootDir    string `mapstructure:"fs_root_dir"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	S3UseSSL     bool   `mapstructure:"s3_use_ssl"`
	GlobalBucket string `mapstructure:"global_bucket"`

	AuthEncryptionKey string `mapstructure:"auth_encryption_key"`
	S3Region          string `mapstructure:"s3_region"`

	MigrationWorkers int `mapstructure:"migration_workers"`
	DeleteWorkers    int `mapstructure:"delete_workers"`
}

func loadConfig(v *viper.Viper) (config, error) {
	v.SetDefault("listen_addr", ":8443")
	v.SetDefault("blob_backend", "fs")
	v.SetDefault("fs_root_dir", "./data")
	v.SetDefault("global_bucket", "vaultstorage")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("migration_workers", 4)
	v.SetDefault("delete_workers", 2)

	v.SetEnvPrefix("vaultstorage")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.ControlPlaneDSN == "" {
		return config{}, fmt.Errorf("control_plane_dsn is required")
	}
	if cfg.AuthEncryptionKey == "" {
		return config{}, fmt.Errorf("auth_encryption_key is required")
	}
	return cfg, nil
}
