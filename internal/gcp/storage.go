package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// storageClient implements StorageClient over the GCS SDK.
type storageClient struct{}

// NewStorageClient returns a StorageClient backed by the real service.
func NewStorageClient() StorageClient {
	return &storageClient{}
}

func (c *storageClient) GetBucket(
	ctx context.Context,
	bucketName string,
) (bool, string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return false, "", classifyError(err, "failed to create Storage client")
	}
	defer client.Close()

	attrs, err := client.Bucket(bucketName).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrBucketNotExist) {
			return false, "", nil
		}
		return false, "", classifyError(err, fmt.Sprintf("failed to get bucket %s", bucketName))
	}

	return true, attrs.Location, nil
}

func (c *storageClient) CreateBucket(
	ctx context.Context,
	projectID, bucketName, location string,
) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return classifyError(err, "failed to create Storage client")
	}
	defer client.Close()

	attrs := &storage.BucketAttrs{
		Location:                 location,
		UniformBucketLevelAccess: storage.UniformBucketLevelAccess{Enabled: true},
	}

	if err := client.Bucket(bucketName).Create(ctx, projectID, attrs); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return classifyError(err, fmt.Sprintf("failed to create bucket %s", bucketName))
	}

	return nil
}

func (c *storageClient) ObjectExists(
	ctx context.Context,
	bucketName, objectName string,
) (bool, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return false, classifyError(err, "failed to create Storage client")
	}
	defer client.Close()

	_, err = client.Bucket(bucketName).Object(objectName).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, classifyError(err,
			fmt.Sprintf("failed to get object gs://%s/%s", bucketName, objectName))
	}

	return true, nil
}

func (c *storageClient) UploadObject(
	ctx context.Context,
	bucketName, objectName string,
	contents []byte,
) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return classifyError(err, "failed to create Storage client")
	}
	defer client.Close()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(contents); err != nil {
		_ = w.Close()
		return classifyError(err,
			fmt.Sprintf("failed to write object gs://%s/%s", bucketName, objectName))
	}

	if err := w.Close(); err != nil {
		return classifyError(err,
			fmt.Sprintf("failed to commit object gs://%s/%s", bucketName, objectName))
	}

	return nil
}
