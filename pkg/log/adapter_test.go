package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newDiscardEntry() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newBufferEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logrus.NewEntry(logger), buf
}

func TestNewBadgerLogrusAdapter(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())
	assert.NotNil(t, adapter)
	assert.Equal(t, "badger", adapter.Data["component"])
}

func TestBadgerLogrusAdapter_Methods(t *testing.T) {
	adapter := NewBadgerLogrusAdapter(newDiscardEntry())

	assert.NotPanics(t, func() { adapter.Errorf("error %s", "test") })
	assert.NotPanics(t, func() { adapter.Warningf("warning %d", 42) })
	assert.NotPanics(t, func() { adapter.Infof("info %v", true) })
	assert.NotPanics(t, func() { adapter.Debugf("debug") })
}

func TestBadgerLogrusAdapter_InfoIsDemoted(t *testing.T) {
	entry, buf := newBufferEntry(logrus.InfoLevel)
	adapter := NewBadgerLogrusAdapter(entry)

	adapter.Infof("Replaying file id: %d\n", 1)
	assert.Empty(t, buf.String(), "badger info must not show at info level")

	adapter.Warningf("value log %s\n", "truncated")
	out := buf.String()
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, `msg="value log truncated"`)
	assert.Contains(t, out, "component=badger")
}

func TestBadgerLogrusAdapter_InfoVisibleAtDebug(t *testing.T) {
	entry, buf := newBufferEntry(logrus.DebugLevel)
	NewBadgerLogrusAdapter(entry).Infof("All %d tables opened", 3)
	assert.Contains(t, buf.String(), "level=debug")
	assert.Contains(t, buf.String(), "All 3 tables opened")
}
