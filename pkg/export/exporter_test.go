package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyDataset() Dataset {
	return Dataset{
		Headers: []string{"action_date", "action", "status"},
		Rows: []map[string]string{
			{"action_date": "2024-05-01T10:00:00Z", "action": "approved", "status": "approved"},
			{"action_date": "2024-05-02T10:00:00Z", "action": "position_changed", "status": "waitlisted"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(historyDataset(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "action_date,action,status\n2024-05-01T10:00:00Z,approved,approved\n2024-05-02T10:00:00Z,position_changed,waitlisted\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{}, "")
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(historyDataset(), "Enrollment history")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
	assert.Equal(t, "application/pdf", NewPDFExporter().ContentType())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
