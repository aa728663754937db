package port_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marloq/riptide/pkg/batch/core/port"
)

type quietListener struct{}

type fatalListener struct {
	fatal bool
}

func (l *fatalListener) Fatal() bool { return l.fatal }

func TestNotifyRunsCallback(t *testing.T) {
	ran := false
	err := port.Notify(&quietListener{}, "BeforeChunk", func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestNotifyContainsPanic(t *testing.T) {
	err := port.Notify(&quietListener{}, "BeforeChunk", func() { panic("boom") })
	assert.NoError(t, err)
}

func TestNotifyEscalatesFatalListenerPanic(t *testing.T) {
	err := port.Notify(&fatalListener{fatal: true}, "AfterStep", func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AfterStep")

	// A fatal-capable listener that declines escalation is contained.
	assert.NoError(t, port.Notify(&fatalListener{}, "AfterStep", func() { panic("boom") }))
}
