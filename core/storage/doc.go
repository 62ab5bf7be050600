// Package storage provides an abstraction layer for object storage services.
//
// It wraps the MinIO Go client behind the Client interface, which is what the
// snapshot archive uses to write and read session snapshots. Both AWS S3 and
// self-hosted MinIO are supported.
//
// The interface makes storage easy to mock in unit tests (see core/storage/mocks).
//
// # Usage
//
//	client, err := storage.NewClient(cfg.Storage)
//	err = storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region)
package storage
