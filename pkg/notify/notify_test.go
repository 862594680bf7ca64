// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package notify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanEventMarshalsExpectedShape(t *testing.T) {
	evt := ScanEvent{Chain: 2, Ts: 12.5, NewChain: true, NewInst: true, ScanTally: 7}
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, float64(2), back["chain"])
	require.Equal(t, true, back["new_chain"])
	require.Equal(t, false, back["deleted_inst"])
	require.Equal(t, float64(7), back["scan_tally"])
}

func TestConnectRejectsEmptyAddress(t *testing.T) {
	_, err := Connect(Config{Address: "", Subject: "lmcrec.scans"})
	require.Error(t, err, "an unreachable/empty address must surface as an error, not a nil Publisher")
}
