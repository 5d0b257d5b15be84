package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioGateway implements Gateway on top of the MinIO client, which talks
// to any S3-compatible service.
type MinioGateway struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

// NewMinioGateway connects to the endpoint and creates the bucket if it
// does not exist yet.
func NewMinioGateway(ctx context.Context, cfg MinioConfig, log zerolog.Logger) (*MinioGateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created bucket")
	}
	return &MinioGateway{client: client, bucket: cfg.Bucket, log: log.With().Str("component", "storage").Logger()}, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// Upload stores body at key.
func (g *MinioGateway) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := g.client.PutObject(ctx, g.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Download reads the whole object at key.
func (g *MinioGateway) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := g.client.GetObject(ctx, g.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return data, nil
}

// Move copies server-side and then deletes the source.  S3 has no rename,
// so a crash between the two calls leaves both copies; callers that check
// Exists(to) first treat that as a completed move.
func (g *MinioGateway) Move(ctx context.Context, from, to string) error {
	_, err := g.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: g.bucket, Object: to},
		minio.CopySrcOptions{Bucket: g.bucket, Object: from},
	)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("move %s: %w", from, ErrObjectNotFound)
		}
		return fmt.Errorf("move %s -> %s: %w", from, to, err)
	}
	if err := g.client.RemoveObject(ctx, g.bucket, from, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("move %s: remove source: %w", from, err)
	}
	return nil
}

// Exists reports whether key is present.
func (g *MinioGateway) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.StatObject(ctx, g.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}

// List walks prefix recursively.
func (g *MinioGateway) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range g.client.ListObjects(ctx, g.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Remove deletes keys through the multi-object delete API.  The first
// per-object error is returned after the whole batch has been attempted.
func (g *MinioGateway) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- minio.ObjectInfo{Key: k}
	}
	close(objects)

	var errs []error
	for rerr := range g.client.RemoveObjects(ctx, g.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil && !isNotFound(rerr.Err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", rerr.ObjectName, rerr.Err))
		}
	}
	return errors.Join(errs...)
}

// SignedURL returns a presigned GET URL valid for ttl.
func (g *MinioGateway) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.client.PresignedGetObject(ctx, g.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", key, err)
	}
	return u.String(), nil
}
