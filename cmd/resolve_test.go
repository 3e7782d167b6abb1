package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fleet-feedback/internal/fleet"
)

func sampleReport() *fleet.Report {
	return &fleet.Report{
		Table:      "frota.vinculos_motorista",
		Column:     "placa_carreta",
		Candidates: []fleet.Candidate{{Name: "placa_carreta", Score: 80}, {Name: "obs", Score: 0}},
		Probes:     []fleet.ProbeResult{{Column: "placa_carreta", Sampled: 50, PlateShaped: 48}},
	}
}

func TestWriteReport_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "yaml"))

	var got fleet.Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "placa_carreta", got.Column)
	assert.Len(t, got.Candidates, 2)
	assert.Contains(t, buf.String(), "plate_shaped: 48")
}

func TestWriteReport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "json"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "frota.vinculos_motorista", got["table"])
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	err := writeReport(&bytes.Buffer{}, sampleReport(), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
