// Copyright (C) 2026 vaultstorage contributors
// See LICENSE for copying information.

// Command vaultstorage runs the multi-tenant object storage service: the
// REST, TUS, and S3-wire HTTP surfaces, plus the background migration
// fleet and delete-queue workers.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storj.io/vaultstorage/internal/blob"
	"storj.io/vaultstorage/internal/crypt"
	"storj.io/vaultstorage/internal/deletequeue"
	"storj.io/vaultstorage/internal/httpapi"
	"storj.io/vaultstorage/internal/lock"
	"storj.io/vaultstorage/internal/metadata"
	"storj.io/vaultstorage/internal/migrationfleet"
	"storj.io/vaultstorage/internal/objectlifecycle"
	"storj.io/vaultstorage/internal/orphan"
	"storj.io/vaultstorage/internal/pubsub"
	"storj.io/vaultstorage/internal/shard"
	"storj.io/vaultstorage/internal/tus"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "vaultstorage",
		Short: "Multi-tenant S3-compatible object storage service",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml/json/toml)")

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vaultstorage")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vaultstorage")
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	codec := crypt.NewCodec(cfg.AuthEncryptionKey)

	controlDB, err := sql.Open("postgres", cfg.ControlPlaneDSN)
	if err != nil {
		return err
	}
	registry := metadata.NewTenantRegistry(controlDB)

	dial := func(tenantID string) (*sql.DB, error) {
		t, err := registry.GetTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		dsn, err := codec.Decrypt(t.EncryptedDatabaseURL)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		if t.MaxConnections > 0 {
			db.SetMaxOpenConns(t.MaxConnections)
		}
		return db, nil
	}
	store := metadata.NewStore(log, dial)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()

	bus := pubsub.NewBus(log, redisClient)
	dbLock := lock.NewDBLock(log, bus)

	backend, err := newBlobBackend(cfg)
	if err != nil {
		return err
	}

	sizes := metadata.NewTenantSizeLimiter(registry, 30*time.Second)
	deleteQueue := deletequeue.New(log, redisClient, backend, deletequeue.Config{
		GlobalBucket: cfg.GlobalBucket, Workers: cfg.DeleteWorkers,
	})

	manager := objectlifecycle.New(log, store, backend, dbLock, deleteQueue, sizes, objectlifecycle.Config{
		GlobalBucket: cfg.GlobalBucket,
	})
	tusEngine := tus.New(log, store, backend, dbLock, tus.Config{GlobalBucket: cfg.GlobalBucket})
	orphanScanner := orphan.New(log, store, backend, cfg.GlobalBucket, 1000, 30*time.Second)
	shardAllocator := shard.New(log, store, shard.Config{})
	fleet := migrationfleet.New(log, registry, dial, redisClient, migrationfleet.Config{
		Workers: cfg.MigrationWorkers,
	})

	authenticator := httpapi.NewAuthenticator(log, registry, codec)
	buckets := httpapi.NewBucketServer(store)
	objects := httpapi.NewObjectServer(store, manager)
	tusServer := httpapi.NewTUSServer(store, tusEngine)
	admin := httpapi.NewAdminServer(store, fleet, orphanScanner, shardAllocator)
	s3 := httpapi.NewS3Server(registry, store, manager, codec, cfg.S3Region)

	router := httpapi.Router(authenticator, buckets, objects, tusServer, admin, s3)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	fleet.Start(workerCtx)
	deleteQueue.Start(workerCtx)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		cancelWorkers()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func newBlobBackend(cfg config) (blob.Backend, error) {
	if cfg.BlobBackend == "s3" {
		return blob.NewS3Backend(blob.S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			UseSSL:          cfg.S3UseSSL,
			GlobalBucket:    cfg.GlobalBucket,
		})
	}
	return blob.NewFSBackend(cfg.FSRootDir), nil
}
