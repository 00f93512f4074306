package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/config"
)

// Object implements Storage against an S3-compatible bucket (R2/minio).
type Object struct {
	client *minio.Client
	bucket string
}

// NewObject creates an Object backend and ensures its bucket exists.
func NewObject(cfg config.StorageConfig) (*Object, error) {
	client, err := minio.New(cfg.R2Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.R2AccessKeyID, cfg.R2SecretKey, ""),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create object client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.R2BucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.R2BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: failed to create bucket: %w", err)
		}
	}

	return &Object{client: client, bucket: cfg.R2BucketName}, nil
}

func (o *Object) Save(ctx context.Context, path string, r io.Reader, size int64) error {
	_, err := o.client.PutObject(ctx, o.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: getContentType(path),
	})
	if err != nil {
		return fmt.Errorf("storage: failed to put %q: %w", path, err)
	}
	return nil
}

func (o *Object) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get %q: %w", path, err)
	}
	// GetObject is lazy; force a stat now so a missing key surfaces here
	// instead of on the first Read.
	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.CodeStorageUnavailable, fmt.Sprintf("storage: %q not found", path))
		}
		return nil, fmt.Errorf("storage: failed to stat %q: %w", path, err)
	}
	return obj, nil
}

func (o *Object) Delete(ctx context.Context, path string) error {
	if err := o.client.RemoveObject(ctx, o.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: failed to delete %q: %w", path, err)
	}
	return nil
}

func (o *Object) Exists(ctx context.Context, path string) (bool, error) {
	_, err := o.client.StatObject(ctx, o.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: failed to stat %q: %w", path, err)
	}
	return true, nil
}

// Mkdir is a no-op: object stores have no directory entities, only key
// prefixes, which come into existence with the first object saved under
// them.
func (o *Object) Mkdir(ctx context.Context, path string) error {
	return nil
}

// Rmdir enumerates every key under path+"/" and batch-deletes them.
func (o *Object) Rmdir(ctx context.Context, path string) error {
	prefix := path + "/"

	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				continue
			}
			objectsCh <- obj
		}
	}()

	for result := range o.client.RemoveObjects(ctx, o.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("storage: failed to remove %q: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
