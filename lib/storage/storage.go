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

// Package storage wraps the object store the pipeline keeps raw log
// files in. The production implementation talks to S3 compatible
// storage; the memory implementation backs tests and the local
// profile.
package storage

import (
	"context"
	"time"
)

// ObjectStore stores raw log file bytes under opaque keys.
//
// Get returns trace.NotFound for missing keys so callers can
// distinguish a lost upload from a transient storage failure.
type ObjectStore interface {
	// Put stores data under key, replacing any prior object
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the object stored under key
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)
	// Size returns the stored object's size in bytes
	Size(ctx context.Context, key string) (int64, error)
	// PresignPut returns a URL that accepts one upload of key
	// until the TTL passes
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// PresignGet returns a URL that serves key until the TTL
	// passes
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	// EnsureBucket creates the backing bucket if it does not exist
	EnsureBucket(ctx context.Context) error
}
