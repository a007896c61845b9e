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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport/lib/defaults"
)

const sampleConfig = `
database:
  dsn: postgres://logport:secret@db:5432/logport
redis:
  addr: redis:6379
storage:
  region: us-east-1
  bucket: logport-files
  endpoint: http://minio:9000
  access_key_id: minioadmin
  secret_access_key: minioadmin
  use_path_style: true
worker:
  count: 8
scheduler:
  enabled: false
log:
  severity: debug
  format: json
`

func TestReadFromBytes(t *testing.T) {
	cfg, err := ReadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "postgres://logport:secret@db:5432/logport", cfg.Database.DSN)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "logport-files", cfg.Storage.Bucket)
	require.True(t, cfg.Storage.UsePathStyle)
	require.Equal(t, 8, cfg.Worker.Count)
	require.True(t, *cfg.Worker.Enabled)
	require.False(t, *cfg.Scheduler.Enabled)
	require.Equal(t, "debug", cfg.Log.Severity)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestDefaults(t *testing.T) {
	cfg, err := ReadFromBytes([]byte("{}"))
	require.NoError(t, err)
	require.Equal(t, defaults.WorkerCount, cfg.Worker.Count)
	require.True(t, *cfg.Worker.Enabled)
	require.True(t, *cfg.Scheduler.Enabled)
	require.Equal(t, "info", cfg.Log.Severity)
	require.Equal(t, "text", cfg.Log.Format)
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := ReadFromBytes([]byte("databse:\n  dsn: oops\n"))
	require.True(t, trace.IsBadParameter(err))
}

func TestInvalidValues(t *testing.T) {
	_, err := ReadFromBytes([]byte("log:\n  severity: loud\n"))
	require.True(t, trace.IsBadParameter(err))

	_, err = ReadFromBytes([]byte("log:\n  format: xml\n"))
	require.True(t, trace.IsBadParameter(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOGPORT_DB_DSN", "postgres://env-wins")
	t.Setenv("LOGPORT_REDIS_ADDR", "other-redis:6379")
	t.Setenv("LOGPORT_WORKER_COUNT", "2")

	cfg, err := ReadFromBytes([]byte(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "postgres://env-wins", cfg.Database.DSN)
	require.Equal(t, "other-redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Worker.Count)
}

func TestReadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := ReadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)

	_, err = ReadFromFile(filepath.Join(dir, "missing.yaml"))
	require.True(t, trace.IsNotFound(err))
}
