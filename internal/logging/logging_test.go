package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(WithJSONFormatter(), WithOutput(&buf), WithLevel(slog.LevelDebug))

	log.Info("module invoked", Module("mod-a"), Channel("order.created"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"module invoked"`)
	assert.Contains(t, out, `"module":"mod-a"`)
	assert.Contains(t, out, `"channel":"order.created"`)
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(WithJSONFormatter(), WithOutput(&buf), WithLevel(slog.LevelWarn))

	log.Debug("should not appear")
	log.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestError_NilIsEmptyAttr(t *testing.T) {
	a := Error(nil)
	assert.Equal(t, slog.Attr{}, a)
}
