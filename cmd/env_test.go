package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fleet-feedback/internal/config"
)

func testFleetConfig() config.FleetConfig {
	return config.FleetConfig{
		Schema:                     "frota",
		ActivationTag:              "FROTA",
		ActivationColumn:           "modalidade",
		CancellationColumn:         "data_cancelamento",
		VehicleTable:               "veiculos",
		VehiclePlateColumn:         "placa",
		AssignmentTable:            "vinculos_motorista",
		AssignmentStartColumn:      "data_inicio",
		PersonnelTable:             "colaboradores",
		PersonnelIDColumn:          "matricula",
		PersonnelNameColumn:        "nome",
		PersonnelTerminationColumn: "data_demissao",
	}
}

func TestFleetTables_AssignmentTarget(t *testing.T) {
	target := fleetTables(testFleetConfig()).AssignmentTarget()

	assert.Equal(t, "frota.vinculos_motorista", target.QualifiedName())
	assert.Equal(t, "FROTA", target.ActivationTag)
	assert.ElementsMatch(t, []string{"matricula", "data_inicio"}, target.ExcludedColumns)
}

func TestServiceOptions(t *testing.T) {
	c := &config.Config{
		Dedup:   config.DedupConfig{WindowDays: 10, Timezone: "America/Sao_Paulo"},
		Geocode: config.GeocodeConfig{Enabled: true, BaseURL: "http://127.0.0.1:1", TimeoutMs: 100},
	}
	opts, err := serviceOptions(c)
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	c.Geocode.Enabled = false
	opts, err = serviceOptions(c)
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	c.Dedup.Timezone = "Mars/Olympus_Mons"
	_, err = serviceOptions(c)
	assert.Error(t, err)
}
