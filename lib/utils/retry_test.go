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

package utils

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestLinearDuration(t *testing.T) {
	r, err := NewLinear(LinearConfig{Step: time.Second, Max: 3 * time.Second})
	require.NoError(t, err)

	require.Equal(t, time.Duration(0), r.Duration())
	r.Inc()
	require.Equal(t, time.Second, r.Duration())
	r.Inc()
	require.Equal(t, 2*time.Second, r.Duration())
	r.Inc()
	r.Inc()
	require.Equal(t, 3*time.Second, r.Duration())

	r.Reset()
	require.Equal(t, time.Duration(0), r.Duration())
}

func TestLinearConfigValidation(t *testing.T) {
	_, err := NewLinear(LinearConfig{Max: time.Second})
	require.True(t, trace.IsBadParameter(err))

	_, err = NewLinear(LinearConfig{Step: time.Second})
	require.True(t, trace.IsBadParameter(err))
}

func TestForAttempts(t *testing.T) {
	r, err := NewLinear(LinearConfig{Step: time.Millisecond, Max: time.Millisecond})
	require.NoError(t, err)

	calls := 0
	err = r.ForAttempts(context.Background(), 2, func() error {
		calls++
		return trace.ConnectionProblem(nil, "transient")
	})
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, 3, calls)
}

func TestForAttemptsSucceedsMidway(t *testing.T) {
	r, err := NewLinear(LinearConfig{Step: time.Millisecond, Max: time.Millisecond})
	require.NoError(t, err)

	calls := 0
	err = r.ForAttempts(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return trace.ConnectionProblem(nil, "transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestForPermanentError(t *testing.T) {
	r, err := NewLinear(LinearConfig{Step: time.Millisecond, Max: time.Millisecond})
	require.NoError(t, err)

	calls := 0
	err = r.For(context.Background(), func() error {
		calls++
		return PermanentRetryError(trace.AccessDenied("bad credentials"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
