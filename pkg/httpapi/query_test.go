// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunQueryMissingSelectorErrors(t *testing.T) {
	_, err := RunQuery(QueryRequest{Root: t.TempDir()})
	require.ErrorIs(t, err, ErrMissingSelector)
}

func TestRunQueryInvalidTimeRangeErrors(t *testing.T) {
	_, err := RunQuery(QueryRequest{
		Root:     t.TempDir(),
		From:     "2024-01-02T00:00:00Z",
		To:       "2024-01-01T00:00:00Z",
		Selector: map[string]interface{}{"name": "all"},
	})
	require.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestRunQueryRejectsUnknownSelectorKey(t *testing.T) {
	_, err := RunQuery(QueryRequest{
		Root:     t.TempDir(),
		Selector: map[string]interface{}{"bogus_key": "x"},
	})
	require.Error(t, err)
}

func TestRunQueryEmptyRootCompletesWithNoResults(t *testing.T) {
	resp, err := RunQuery(QueryRequest{
		Root:     t.TempDir(),
		Selector: map[string]interface{}{"name": "all"},
	})
	require.NoError(t, err)
	require.True(t, resp.Complete)
	require.Equal(t, 0, resp.ScansRun)
	require.Empty(t, resp.Results)
}
