// Copyright (C) 2025-2026, TransformerLab. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Backend implements Backend against an S3-compatible object store,
// adapted from Lens/skills-repository's S3Storage.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	presigner *s3.PresignClient
	urlExpiry time.Duration
}

// S3Config configures an S3Backend. Endpoint/AccessKeyID/SecretAccessKey are
// optional: when empty, the default AWS credential chain and endpoint apply
// (so real S3 works without a MinIO-style override).
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLExpiry       time.Duration
}

// NewS3Backend builds an S3Backend from cfg.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	expiry := cfg.URLExpiry
	if expiry == 0 {
		expiry = time.Hour
	}

	return &S3Backend{
		client:    client,
		bucket:    cfg.Bucket,
		presigner: s3.NewPresignClient(client),
		urlExpiry: expiry,
	}, nil
}

// Upload streams reader's content to key.
func (s *S3Backend) Upload(ctx context.Context, key string, reader io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	return err
}

// UploadBytes uploads data to key.
func (s *S3Backend) UploadBytes(ctx context.Context, key string, data []byte) error {
	return s.Upload(ctx, key, bytes.NewReader(data))
}

// Download opens a streaming reader for key.
func (s *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// DownloadBytes reads key entirely into memory.
func (s *S3Backend) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	return downloadBytesVia(ctx, s, key)
}

// Delete removes key.
func (s *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// DeletePrefix removes every object under prefix.
func (s *S3Backend) DeletePrefix(ctx context.Context, prefix string) error {
	objs, err := s.ListObjects(ctx, prefix)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether key is present.
func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// GetURL returns a presigned GET URL for key.
func (s *S3Backend) GetURL(ctx context.Context, key string) (string, error) {
	res, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

// ListObjects lists every object under prefix, paging as needed.
func (s *S3Backend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return objects, nil
}
