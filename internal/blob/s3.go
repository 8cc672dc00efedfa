package blob

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pliu/nwitter/internal/apperr"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	URLExpiry time.Duration
}

// S3 stores blobs in an S3-compatible bucket and hands out presigned GET
// URLs.
type S3 struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewS3(cfg S3Config) (*S3, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3{client: cl, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (s *S3) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	key, err := Clean(path)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return s3Error("blob.S3.Put", err)
}

func (s *S3) URL(ctx context.Context, path string) (string, error) {
	const op = "blob.S3.URL"
	key, err := Clean(path)
	if err != nil {
		return "", err
	}
	// Presigning never talks to the server, so check the object exists.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return "", s3Error(op, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", s3Error(op, err)
	}
	return u.String(), nil
}

// Delete removes the object. S3 deletes are silent about missing keys, so
// the object is stat'ed first.
func (s *S3) Delete(ctx context.Context, path string) error {
	const op = "blob.S3.Delete"
	key, err := Clean(path)
	if err != nil {
		return err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return s3Error(op, err)
	}
	return s3Error(op, s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}))
}

func s3Error(op string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return apperr.E(apperr.NotFound, op, err)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return apperr.E(apperr.Transient, op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.E(apperr.Transient, op, err)
	}
	return apperr.E(apperr.Fatal, op, err)
}
