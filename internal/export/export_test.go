package export

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/switchyard/internal/config"
	"github.com/n0needt0/goodies/switchyard/internal/domain"
	"github.com/n0needt0/goodies/switchyard/internal/relay"
	"github.com/n0needt0/goodies/switchyard/internal/services"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()

	conf := &config.Config{}
	conf.App.Name = "switchyard-test"
	conf.Rules.Path = filepath.Join(t.TempDir(), "rules.json")
	conf.Export.Port = 0
	conf.Defaults.ReadBufferSizeBytes = 32 * 1024
	conf.Frontends = []config.Frontend{
		{Name: "echo", Bind: "127.0.0.1:0", Mode: domain.ModeTCP, DefaultBackend: "echo"},
		{Name: "web", Bind: "127.0.0.1:0", Mode: domain.ModeHTTP, DefaultBackend: "echo"},
	}
	conf.Backends = []config.Backend{{Name: "echo", Server: "127.0.0.1:9100"}}
	conf.InvalidFrontends = map[string]string{}

	svc, err := services.NewServices(conf)
	require.NoError(t, err)

	return NewListener(svc, conf, relay.NewManager(svc))
}

func TestHandleJSON(t *testing.T) {
	l := newTestListener(t)

	rec := httptest.NewRecorder()
	l.handleJSON(rec, httptest.NewRequest("GET", "/export/stats.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload statsPayload
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &payload))

	assert.Equal(t, 2, payload.Global.Frontends)
	require.Len(t, payload.Frontends, 2)
	assert.Equal(t, "echo", payload.Frontends[0].Name)
	assert.Equal(t, domain.StatusStopped, payload.Frontends[0].Status)
}

func TestHandleCSV(t *testing.T) {
	l := newTestListener(t)

	rec := httptest.NewRecorder()
	l.handleCSV(rec, httptest.NewRequest("GET", "/export/stats.csv", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)

	// header plus one row per frontend
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0], "name")
	assert.Contains(t, rows[0], "status")

	nameCol := -1
	for i, col := range rows[0] {
		if col == "name" {
			nameCol = i
		}
	}
	require.GreaterOrEqual(t, nameCol, 0)
	assert.Equal(t, "echo", rows[1][nameCol])
	assert.Equal(t, "web", rows[2][nameCol])
}

func TestFlattenSnapshotsColumnsSorted(t *testing.T) {
	l := newTestListener(t)

	rows, columns, err := l.flattenSnapshots()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.IsIncreasing(t, columns)
	for _, row := range rows {
		for col := range row {
			assert.Contains(t, columns, col)
		}
	}
}
