package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout); SetLevel("info") })

	SetLevel("info")
	Debugf("hidden %d", 1)
	Infof("[store] shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[store] shown 2")
	assert.False(t, DebugEnabled())

	SetLevel("DEBUG")
	Debugf("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.True(t, DebugEnabled())
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json")
	t.Cleanup(func() { Configure(os.Stdout, "text") })

	Infow("fetched", "key", "SPY:equity@1m/ohlc", "rows", 390)
	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "fetched", rec["msg"])
	assert.Equal(t, float64(390), rec["rows"])
}
