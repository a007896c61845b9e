/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/defaults"
)

// S3Config configures the S3 object store.
type S3Config struct {
	// Region is the bucket region
	Region string
	// Bucket is the bucket log files are stored in
	Bucket string
	// Endpoint overrides the AWS endpoint for S3 compatible stores
	// such as MinIO
	Endpoint string
	// PublicEndpoint, when set, is used for presigned URLs handed
	// to browsers that cannot reach the internal endpoint
	PublicEndpoint string
	// AccessKeyID and SecretAccessKey are static credentials; the
	// default AWS credential chain is used when empty
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle addresses the bucket in the URL path, required
	// by most S3 compatible stores
	UsePathStyle bool
}

// CheckAndSetDefaults validates the config.
func (c *S3Config) CheckAndSetDefaults() error {
	if c.Bucket == "" {
		return trace.BadParameter("missing parameter Bucket")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return nil
}

// S3Store is an ObjectStore backed by an S3 compatible bucket.
type S3Store struct {
	cfg S3Config
	*log.Entry

	client        *s3.Client
	uploader      *manager.Uploader
	downloader    *manager.Downloader
	presign       *s3.PresignClient
	publicPresign *s3.PresignClient
}

// NewS3Store connects to the bucket endpoint and returns the store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	clientFor := func(endpoint string) *s3.Client {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := clientFor(cfg.Endpoint)
	store := &S3Store{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentStorage,
			"bucket":          cfg.Bucket,
		}),
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		presign:    s3.NewPresignClient(client),
	}
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		store.publicPresign = s3.NewPresignClient(clientFor(cfg.PublicEndpoint))
	} else {
		store.publicPresign = store.presign
	}
	return store, nil
}

// Put stores data under key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return convertS3Error(err)
}

// Get returns the object stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertS3Error(err)
	}
	return buf.Bytes(), nil
}

// Exists reports whether an object is stored under key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = convertS3Error(err)
		if trace.IsNotFound(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	return true, nil
}

// Size returns the stored object's size in bytes.
func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, convertS3Error(err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// PresignPut returns a URL accepting one upload of key.
func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaults.PresignExpiry
	}
	req, err := s.publicPresign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", convertS3Error(err)
	}
	return req.URL, nil
}

// PresignGet returns a URL serving key.
func (s *S3Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaults.PresignExpiry
	}
	req, err := s.publicPresign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", convertS3Error(err)
	}
	return req.URL, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	if err == nil {
		return nil
	}
	if !trace.IsNotFound(convertS3Error(err)) {
		return convertS3Error(err)
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	}
	// us-east-1 is the default location and must not be spelled out
	if s.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	_, err = s.client.CreateBucket(ctx, input)
	if err != nil {
		err = convertS3Error(err)
		if trace.IsAlreadyExists(err) {
			return nil
		}
		return trace.Wrap(err)
	}
	s.Infof("Created bucket.")
	return nil
}

// convertS3Error converts S3 SDK errors to trace errors.
func convertS3Error(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return trace.NotFound("%s", err)
	}

	var alreadyOwned *s3types.BucketAlreadyOwnedByYou
	var alreadyExists *s3types.BucketAlreadyExists
	if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
		return trace.AlreadyExists("%s", err)
	}

	return trace.ConnectionProblem(err, "%v", err)
}
