package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		_ = SetOutput("stdout")
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t)
	SetLevel("WARN")

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	buf := capture(t)
	SetLevel("DEBUG")
	SetLevel("verbose")

	Debug("still debug")
	assert.Contains(t, buf.String(), "still debug")
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	SetFormat("json")

	Error("boom %s", "now")

	var line jsonLine
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &line))
	assert.Equal(t, "ERROR", line.Level)
	assert.Equal(t, "boom now", line.Message)
}

func TestBadgerLoggerDemotesInfo(t *testing.T) {
	buf := capture(t)
	SetLevel("INFO")

	l := BadgerLogger{Prefix: "badger: "}
	l.Infof("compaction done\n")
	l.Warningf("slow write\n")

	out := buf.String()
	assert.NotContains(t, out, "compaction")
	assert.Contains(t, out, "[WARN] badger: slow write")
}
