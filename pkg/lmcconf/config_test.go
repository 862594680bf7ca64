// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lmcconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverlaysJSONThenEnv(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`{
		"record-root": "/data/recordings",
		"timezone": "Europe/Berlin"
	}`), 0o644))

	t.Setenv("LMCREC_TZ", "UTC")
	require.NoError(t, Load(cfgFile))

	require.Equal(t, "/data/recordings", Keys.RecordRoot)
	require.Equal(t, "UTC", Keys.TimeZone, "env var overrides the config file value")
}

func TestLoadMissingConfigFileIsNotFatal(t *testing.T) {
	require.NoError(t, Load(filepath.Join(t.TempDir(), "does-not-exist.json")))
}

func TestResolveTimeZonePrecedence(t *testing.T) {
	Keys.TimeZone = "Asia/Tokyo"
	loc, err := ResolveTimeZone()
	require.NoError(t, err)
	require.Equal(t, "Asia/Tokyo", loc.String())

	Keys.TimeZone = ""
	t.Setenv("TZ", "America/New_York")
	loc, err = ResolveTimeZone()
	require.NoError(t, err)
	require.Equal(t, "America/New_York", loc.String())
}

func TestWindowConfigResolve(t *testing.T) {
	w := WindowConfig{From: "2024-01-01T00:00:00Z", To: "2024-01-02T00:00:00Z"}
	from, to, err := w.Resolve()
	require.NoError(t, err)
	require.NotNil(t, from)
	require.NotNil(t, to)
	require.InDelta(t, 86400.0, *to-*from, 1e-9)
}

func TestWindowConfigResolveInvalid(t *testing.T) {
	w := WindowConfig{From: "not-a-date"}
	_, _, err := w.Resolve()
	require.Error(t, err)
}
