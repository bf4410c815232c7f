package gcp

import (
	"fmt"
	"testing"

	"github.com/pipewright/pipewright/internal/constants"

	"github.com/stretchr/testify/assert"
)

// sinkExportedEntry mimics a message exported by a Cloud Logging sink: the
// LogEntry serialized as JSON in the data, with no marker attribute.
func sinkExportedEntry(marker string) []byte {
	return []byte(fmt.Sprintf(
		`{"insertId":"abc123","logName":"projects/p/logs/pipewright_verification",`+
			`"labels":{"%s":%q},"jsonPayload":{"event":"pipeline-verification"},`+
			`"timestamp":"2026-08-23T12:00:00Z"}`,
		constants.MarkerLabel, marker))
}

func TestMessageCarriesMarker(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		attrs   map[string]string
		matches bool
	}{
		{
			name:    "marker in exported LogEntry labels",
			data:    sinkExportedEntry("marker-1"),
			attrs:   map[string]string{"logging.googleapis.com/timestamp": "2026-08-23T12:00:00Z"},
			matches: true,
		},
		{
			name:    "different marker in labels",
			data:    sinkExportedEntry("marker-other"),
			attrs:   nil,
			matches: false,
		},
		{
			name:    "marker in message attributes",
			data:    []byte(`{}`),
			attrs:   map[string]string{constants.MarkerLabel: "marker-1"},
			matches: true,
		},
		{
			name:    "entry without labels",
			data:    []byte(`{"insertId":"abc123"}`),
			attrs:   nil,
			matches: false,
		},
		{
			name:    "non-JSON data",
			data:    []byte("not json"),
			attrs:   nil,
			matches: false,
		},
		{
			name:    "empty message",
			data:    nil,
			attrs:   nil,
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, messageCarriesMarker(tt.data, tt.attrs, "marker-1"))
		})
	}
}
