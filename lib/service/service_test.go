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

package service

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport/lib/config"
	"github.com/gravitational/logport/lib/defaults"
)

func TestConfigValidation(t *testing.T) {
	err := (&Config{}).CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err))

	fileConfig, err := config.ReadFromBytes([]byte("{}"))
	require.NoError(t, err)
	err = (&Config{FileConfig: fileConfig}).CheckAndSetDefaults()
	require.True(t, trace.IsBadParameter(err), "empty DSN must be rejected")

	fileConfig.Database.DSN = "postgres://localhost/logport"
	fileConfig.Redis.Addr = "localhost:6379"
	fileConfig.Storage.Bucket = "logport"
	cfg := Config{FileConfig: fileConfig}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, defaults.DiagnosticsAddr, cfg.DiagnosticsAddr)
	require.NotNil(t, cfg.Clock)
}

func TestDiagnosticsEndpoints(t *testing.T) {
	server := newDiagnosticsServer("127.0.0.1:0")
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
