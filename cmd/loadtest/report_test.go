package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() report {
	return report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]callReport{
			callScenario:   {Calls: 2, Success: 2, Codes: map[string]int64{"201": 2}},
			callPlaceOrder: {Calls: 2, Success: 2, Codes: map[string]int64{"201": 2}},
			callGetOrder:   {Calls: 2, Success: 1, Rejected: 1, Codes: map[string]int64{"404": 1, "200": 1}},
		},
		Stock: &stockReport{Before: 5, After: 3, Quantity: 1, ExpectedAccepted: 5, Accepted: 2, Consistent: true},
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeJSONReport(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(2), decoded.TotalScenarios)
	require.NotNil(t, decoded.Stock)
	assert.Equal(t, 3, decoded.Stock.After)

	assert.ErrorContains(t, writeJSONReport("../escape.json", sampleReport()), "inside current directory")
	assert.ErrorContains(t, writeJSONReport(".", sampleReport()), "must point to a file")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, sampleReport(), config{mode: modePlaceRead, total: 2})

	text := out.String()
	for _, want := range []string{
		"Load test summary",
		"mode=place-read run=count:2",
		"GetOrder: calls=2 success=1 rejected=1",
		"codes=200:1,404:1",
		"PlaceOrder: calls=2",
		"consistent=true",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "scenario: calls", "scenario totals are printed in the summary line")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("GetOrder")), bytes.Index(out.Bytes(), []byte("PlaceOrder")))
}

func TestFormatCodes(t *testing.T) {
	assert.Equal(t, "201:1,409:2", formatCodes(map[string]int64{"409": 2, "201": 1}))
	assert.Empty(t, formatCodes(nil))
}
