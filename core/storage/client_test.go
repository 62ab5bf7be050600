package storage_test

import (
	"context"
	"testing"

	"world-sync/core/storage"
	"world-sync/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestNewClient(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		cfg := storage.Config{
			Endpoint:  "localhost:9000",
			AccessKey: "testkey",
			SecretKey: "testsecret",
			Bucket:    "world-snapshots",
			Region:    "us-east-1",
		}

		client, err := storage.NewClient(cfg)
		assert.NoError(t, err)
		assert.NotNil(t, client)
	})

	t.Run("EndpointWithScheme", func(t *testing.T) {
		cfg := storage.Config{
			Endpoint:  "https://s3.amazonaws.com",
			AccessKey: "testkey",
			SecretKey: "testsecret",
			UseSSL:    true,
		}

		client, err := storage.NewClient(cfg)
		assert.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("Exists", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "snaps").Return(true, nil)

		assert.NoError(t, storage.EnsureBucket(ctx, client, "snaps", ""))
		client.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Created", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "snaps").Return(false, nil)
		client.On("MakeBucket", ctx, "snaps", minio.MakeBucketOptions{Region: "eu-west-1"}).Return(nil)

		assert.NoError(t, storage.EnsureBucket(ctx, client, "snaps", "eu-west-1"))
		client.AssertExpectations(t)
	})

	t.Run("CheckFails", func(t *testing.T) {
		client := new(mocks.Client)
		client.On("BucketExists", ctx, "snaps").Return(false, assert.AnError)

		assert.ErrorIs(t, storage.EnsureBucket(ctx, client, "snaps", ""), assert.AnError)
	})
}
