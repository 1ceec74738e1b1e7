package trace

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesConsoleAndCSV(t *testing.T) {
	var out bytes.Buffer
	r := NewRecorder(&out, 16)
	path := filepath.Join(t.TempDir(), "trace.csv")
	require.NoError(t, r.EnableCSVLogging(path))
	r.Quiet(KindVsync)

	r.Emit(Record{Kind: KindVsync, Client: "ui", Timestamp: 100, Count: 1})
	r.Emit(Record{Kind: KindVsync, Client: "ui", Timestamp: 200, Count: 2})
	r.Emit(Record{Kind: KindHotplug, Client: "ui", Detail: "External connected"})
	r.Close()
	require.NoError(t, r.Run())

	assert.Equal(t, int64(2), r.Total("ui"))
	assert.Contains(t, out.String(), "Hotplug")
	assert.NotContains(t, out.String(), "ts=100")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"time", "client", "event", "vsync_ts", "vsync_count", "detail"}, rows[0])
	assert.Equal(t, "Vsync", rows[1][2])
	assert.Equal(t, "200", rows[2][3])
	assert.Equal(t, "External connected", rows[3][5])
}

func TestEmitDropsWhenFull(t *testing.T) {
	r := NewRecorder(nil, 1)
	r.Emit(Record{Kind: KindRequest})
	r.Emit(Record{Kind: KindRequest})
	r.Close()
	require.NoError(t, r.Run())
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "FrameLate", KindFrameLate.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}
