package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"Period", "Amount"},
		Rows: []map[string]string{
			{"Period": "2026-01", "Amount": "500000.00"},
			{"Period": "2026-02", "Amount": "500000.00"},
		},
	}

	payload, err := exporter.Render(data)
	require.NoError(t, err)
	assert.Equal(t, "Period,Amount\n2026-01,500000.00\n2026-02,500000.00\n", string(payload))
}

func TestCSVExporterRenderSummary(t *testing.T) {
	exporter := NewCSVExporter()
	data := Dataset{
		Headers: []string{"Period", "Amount"},
		Rows:    []map[string]string{{"Period": "2026-01", "Amount": "500000.00"}},
		Summary: []SummaryLine{{Label: "Total Outstanding", Value: "500000.00"}},
	}

	payload, err := exporter.Render(data)
	require.NoError(t, err)
	assert.Equal(t, "Period,Amount\n2026-01,500000.00\n\nTotal Outstanding,500000.00\n", string(payload))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	exporter := NewCSVExporter()
	_, err := exporter.Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	exporter := NewPDFExporter()
	data := Dataset{
		Headers: []string{"Period", "Amount"},
		Rows:    []map[string]string{{"Period": "2026-01", "Amount": "500000.00"}},
	}

	payload, err := exporter.Render(data, "Billing Statement")
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}
