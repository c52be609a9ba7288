// Copyright 2026 TechEmpower, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	attrs := Attributes{}.Normalize()

	assert.Equal(t, 3, attrs.MinPoolSize)
	assert.Equal(t, 15, attrs.MaxPoolSize)
	assert.Equal(t, "SELECT 1 AS Result", attrs.TestQuery)
	assert.Equal(t, "1", attrs.TestValue)
	assert.Equal(t, time.Minute, attrs.TestInterval)
	assert.Equal(t, 10*time.Minute, attrs.StaleTimeout)
	assert.Equal(t, time.Hour, attrs.AbortTimeout)
	assert.Equal(t, 1000, attrs.QueryCountFrequency)
	assert.Equal(t, `"`, attrs.IdentifierQuote)

	require.NoError(t, attrs.Validate())
}

func TestNormalizeDerivesMaxFromMin(t *testing.T) {
	attrs := Attributes{MinPoolSize: 4}.Normalize()
	assert.Equal(t, 20, attrs.MaxPoolSize)

	attrs = Attributes{MinPoolSize: 4, MaxPoolSize: 6}.Normalize()
	assert.Equal(t, 6, attrs.MaxPoolSize, "explicit max must not be overridden")
}

func TestNormalizeClampsTestInterval(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", time.Second, time.Minute},
		{"above maximum", 48 * time.Hour, 24 * time.Hour},
		{"in range", 5 * time.Minute, 5 * time.Minute},
		{"unset", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := Attributes{TestInterval: tt.in}.Normalize()
			assert.Equal(t, tt.want, attrs.TestInterval)
		})
	}
}

func TestValidate(t *testing.T) {
	base := Attributes{}.Normalize()

	tests := []struct {
		name    string
		mutate  func(*Attributes)
		wantErr string
	}{
		{
			name:   "normalized defaults pass",
			mutate: func(a *Attributes) {},
		},
		{
			name:    "min below one",
			mutate:  func(a *Attributes) { a.MinPoolSize = -2 },
			wantErr: "minimum pool size",
		},
		{
			name:    "max below min",
			mutate:  func(a *Attributes) { a.MinPoolSize = 10; a.MaxPoolSize = 2 },
			wantErr: "below minimum",
		},
		{
			name:    "negative retries",
			mutate:  func(a *Attributes) { a.MaxRetries = -1 },
			wantErr: "max retries",
		},
		{
			name:    "negative retry sleep",
			mutate:  func(a *Attributes) { a.RetrySleep = -time.Second },
			wantErr: "retry sleep",
		},
		{
			name:    "negative acquire timeout",
			mutate:  func(a *Attributes) { a.AcquireTimeout = -time.Second },
			wantErr: "acquire timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := base
			tt.mutate(&attrs)
			err := attrs.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCanConnect(t *testing.T) {
	assert.False(t, Attributes{}.CanConnect())
	assert.False(t, Attributes{URLPrefix: "postgres://"}.CanConnect())
	assert.False(t, Attributes{ConnectString: "localhost/app"}.CanConnect())
	assert.True(t, Attributes{URLPrefix: "postgres://", ConnectString: "localhost/app"}.CanConnect())
}

func TestYAMLRedactsPassword(t *testing.T) {
	attrs := Attributes{
		URLPrefix:     "postgres://",
		ConnectString: "localhost/app",
		LoginName:     "svc",
		LoginPass:     "hunter2",
	}.Normalize()

	out, err := attrs.YAML()
	require.NoError(t, err)

	assert.Contains(t, string(out), "login_name: svc")
	assert.Contains(t, string(out), "********")
	assert.NotContains(t, string(out), "hunter2")
}
