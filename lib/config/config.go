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

// Package config reads the service configuration from a YAML file and
// the environment. Environment variables override file values so
// secrets can stay out of the config file.
package config

import (
	"os"
	"strconv"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/gravitational/logport/lib/defaults"
)

// FileConfig mirrors the logport.yaml layout.
type FileConfig struct {
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	Storage   Storage   `yaml:"storage"`
	Worker    Worker    `yaml:"worker"`
	Scheduler Scheduler `yaml:"scheduler"`
	Log       Log       `yaml:"log"`
}

// Database configures the Postgres connection.
type Database struct {
	// DSN is the postgres connection string
	DSN string `yaml:"dsn"`
}

// Redis configures the task queue connection.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Storage configures the object store holding raw log files.
type Storage struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	// Endpoint points at an S3 compatible server such as minio
	Endpoint string `yaml:"endpoint"`
	// PublicEndpoint is used for presigned URLs handed to browsers
	PublicEndpoint  string `yaml:"public_endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Worker configures the task workers.
type Worker struct {
	// Enabled starts the worker pool in this process
	Enabled *bool `yaml:"enabled"`
	// Count is the number of concurrent workers
	Count int `yaml:"count"`
}

// Scheduler configures the fetch scheduler.
type Scheduler struct {
	// Enabled starts the scheduler in this process
	Enabled *bool `yaml:"enabled"`
}

// Log configures logging output.
type Log struct {
	// Severity is one of debug, info, warn, error
	Severity string `yaml:"severity"`
	// Format is text or json
	Format string `yaml:"format"`
}

// ReadFromFile loads the config file, applies environment overrides
// and validates the result.
func ReadFromFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("config file %v not found", path)
		}
		return nil, trace.ConvertSystemError(err)
	}
	return ReadFromBytes(data)
}

// ReadFromBytes parses config bytes, applies environment overrides and
// validates the result.
func ReadFromBytes(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, trace.BadParameter("failed parsing config: %v", err)
	}
	cfg.applyEnv()
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// Default returns the configuration built from defaults and the
// environment alone, for deployments without a config file.
func Default() (*FileConfig, error) {
	var cfg FileConfig
	cfg.applyEnv()
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *FileConfig) applyEnv() {
	setIfPresent(&c.Database.DSN, "LOGPORT_DB_DSN")
	setIfPresent(&c.Redis.Addr, "LOGPORT_REDIS_ADDR")
	setIfPresent(&c.Redis.Password, "LOGPORT_REDIS_PASSWORD")
	setIfPresent(&c.Storage.Endpoint, "LOGPORT_S3_ENDPOINT")
	setIfPresent(&c.Storage.Bucket, "LOGPORT_S3_BUCKET")
	setIfPresent(&c.Storage.AccessKeyID, "LOGPORT_S3_ACCESS_KEY_ID")
	setIfPresent(&c.Storage.SecretAccessKey, "LOGPORT_S3_SECRET_ACCESS_KEY")
	if v := os.Getenv("LOGPORT_WORKER_COUNT"); v != "" {
		if count, err := strconv.Atoi(v); err == nil {
			c.Worker.Count = count
		}
	}
}

func setIfPresent(target *string, name string) {
	if v := os.Getenv(name); v != "" {
		*target = v
	}
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *FileConfig) CheckAndSetDefaults() error {
	if c.Worker.Count == 0 {
		c.Worker.Count = defaults.WorkerCount
	}
	if c.Worker.Count < 0 {
		return trace.BadParameter("worker count must be positive, got %v", c.Worker.Count)
	}
	if c.Worker.Enabled == nil {
		enabled := true
		c.Worker.Enabled = &enabled
	}
	if c.Scheduler.Enabled == nil {
		enabled := true
		c.Scheduler.Enabled = &enabled
	}
	if c.Log.Severity == "" {
		c.Log.Severity = "info"
	}
	if _, err := log.ParseLevel(c.Log.Severity); err != nil {
		return trace.BadParameter("invalid log severity %q", c.Log.Severity)
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return trace.BadParameter("invalid log format %q, expected text or json", c.Log.Format)
	}
	return nil
}

// ApplyLogging configures the process logger from the config.
func (c *FileConfig) ApplyLogging() {
	level, err := log.ParseLevel(c.Log.Severity)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
