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
	"io"
	"path"
	"strings"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gravitational/logport"
)

// GCSConfig configures the GCS fetcher.
type GCSConfig struct {
	// Bucket is the bucket to pull log files from
	Bucket string `json:"bucket"`
	// Prefix narrows the listing, empty for the whole bucket
	Prefix string `json:"prefix"`
	// CredentialsJSON is a service account key; application
	// default credentials are used when empty
	CredentialsJSON string `json:"credentials_json"`
	// HoursAgo, when positive, skips objects last modified before
	// now minus that many hours
	HoursAgo int `json:"hours_ago"`

	// Clock supplies the cutoff reference, defaulted to real time
	Clock clockwork.Clock `json:"-"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *GCSConfig) CheckAndSetDefaults() error {
	if c.Bucket == "" {
		return trace.BadParameter("missing parameter bucket")
	}
	if c.HoursAgo < 0 {
		return trace.BadParameter("hours_ago must not be negative")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// GCSFetcher fetches log files from a Google Cloud Storage bucket.
type GCSFetcher struct {
	cfg GCSConfig
	*log.Entry

	client *gcsstorage.Client
}

// NewGCSFetcher connects the client and returns the fetcher.
func NewGCSFetcher(ctx context.Context, cfg GCSConfig) (*GCSFetcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := gcsstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &GCSFetcher{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentFetcher,
			"bucket":          cfg.Bucket,
		}),
		client: client,
	}, nil
}

// TestConnection verifies the bucket exists and is accessible.
func (f *GCSFetcher) TestConnection(ctx context.Context) error {
	_, err := f.client.Bucket(f.cfg.Bucket).Attrs(ctx)
	if err != nil {
		return convertGCSError(err)
	}
	return nil
}

// Fetch lists the bucket under the prefix and downloads every object
// newer than the cutoff. Directory placeholders and objects that fail
// to download are skipped.
func (f *GCSFetcher) Fetch(ctx context.Context) ([]File, error) {
	var cutoff time.Time
	if f.cfg.HoursAgo > 0 {
		cutoff = f.cfg.Clock.Now().UTC().Add(-time.Duration(f.cfg.HoursAgo) * time.Hour)
	}

	var files []File
	it := f.client.Bucket(f.cfg.Bucket).Objects(ctx, &gcsstorage.Query{Prefix: f.cfg.Prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, convertGCSError(err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if !cutoff.IsZero() && attrs.Updated.Before(cutoff) {
			continue
		}

		data, err := f.download(ctx, attrs.Name)
		if err != nil {
			f.WithError(err).Warningf("Failed to fetch %v, skipping.", attrs.Name)
			continue
		}
		name, data := decompress(path.Base(attrs.Name), data)
		files = append(files, File{Name: name, Data: data, Size: int64(len(data))})
	}
	return files, nil
}

func (f *GCSFetcher) download(ctx context.Context, name string) ([]byte, error) {
	r, err := f.client.Bucket(f.cfg.Bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, convertGCSError(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "%v", err)
	}
	return data, nil
}

// Close releases the client.
func (f *GCSFetcher) Close() error {
	return trace.Wrap(f.client.Close())
}

func convertGCSError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gcsstorage.ErrBucketNotExist), errors.Is(err, gcsstorage.ErrObjectNotExist):
		return trace.NotFound("%s", err)
	}
	return trace.ConnectionProblem(err, "%v", err)
}
