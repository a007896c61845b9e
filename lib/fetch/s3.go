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

package fetch

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
)

// S3Config configures the S3 fetcher.
type S3Config struct {
	// Bucket is the bucket to pull log files from
	Bucket string `json:"bucket"`
	// Prefix narrows the listing, empty for the whole bucket
	Prefix string `json:"prefix"`
	// Region is the bucket region
	Region string `json:"region"`
	// Endpoint overrides the AWS endpoint for S3 compatible stores
	Endpoint string `json:"endpoint_url"`
	// AccessKeyID and SecretAccessKey are static credentials; the
	// default AWS credential chain is used when empty
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	// HoursAgo, when positive, skips objects last modified before
	// now minus that many hours
	HoursAgo int `json:"hours_ago"`
	// UsePathStyle addresses the bucket in the URL path
	UsePathStyle bool `json:"use_path_style"`

	// Clock supplies the cutoff reference, defaulted to real time
	Clock clockwork.Clock `json:"-"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *S3Config) CheckAndSetDefaults() error {
	if c.Bucket == "" {
		return trace.BadParameter("missing parameter bucket")
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.HoursAgo < 0 {
		return trace.BadParameter("hours_ago must not be negative")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// S3Fetcher fetches log files from an S3 compatible bucket.
type S3Fetcher struct {
	cfg S3Config
	*log.Entry

	client     *s3.Client
	downloader *manager.Downloader
}

// NewS3Fetcher connects the client and returns the fetcher.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
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

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Fetcher{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentFetcher,
			"bucket":          cfg.Bucket,
		}),
		client:     client,
		downloader: manager.NewDownloader(client),
	}, nil
}

// TestConnection lists a single key to verify bucket access.
func (f *S3Fetcher) TestConnection(ctx context.Context) error {
	_, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.cfg.Bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return convertFetchS3Error(err)
	}
	return nil
}

// Fetch lists the bucket under the prefix and downloads every object
// newer than the cutoff, skipping directory placeholder keys and
// objects that fail to download.
func (f *S3Fetcher) Fetch(ctx context.Context) ([]File, error) {
	var cutoff time.Time
	if f.cfg.HoursAgo > 0 {
		cutoff = f.cfg.Clock.Now().UTC().Add(-time.Duration(f.cfg.HoursAgo) * time.Hour)
	}

	var files []File
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.cfg.Bucket),
		Prefix: aws.String(f.cfg.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, convertFetchS3Error(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if len(key) == 0 || key[len(key)-1] == '/' {
				continue
			}
			if !cutoff.IsZero() && obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				continue
			}

			data, err := f.download(ctx, key)
			if err != nil {
				f.WithError(err).Warningf("Failed to fetch %v, skipping.", key)
				continue
			}
			name, data := decompress(path.Base(key), data)
			files = append(files, File{Name: name, Data: data, Size: int64(len(data))})
		}
	}
	return files, nil
}

func (f *S3Fetcher) download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(f.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertFetchS3Error(err)
	}
	return buf.Bytes(), nil
}

// Close is a no-op, the SDK client holds no persistent connection.
func (f *S3Fetcher) Close() error {
	return nil
}

func convertFetchS3Error(err error) error {
	if err == nil {
		return nil
	}
	var noSuchBucket *s3types.NoSuchBucket
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchBucket) || errors.As(err, &noSuchKey) {
		return trace.NotFound("%s", err)
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied":
			return trace.AccessDenied("%s", err)
		}
	}
	return trace.ConnectionProblem(err, "%v", err)
}
