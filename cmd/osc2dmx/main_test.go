package main

import (
	"testing"

	"github.com/doismellburning/osc2dmx/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortFromAddrExtractsPort(t *testing.T) {
	port, err := portFromAddr(":6666")
	require.NoError(t, err)
	assert.Equal(t, 6666, port)

	port, err = portFromAddr("127.0.0.1:7777")
	require.NoError(t, err)
	assert.Equal(t, 7777, port)
}

func TestPortFromAddrRejectsMissingPort(t *testing.T) {
	_, err := portFromAddr("no-colon-here")
	assert.Error(t, err)
}

func TestDebugDumpPathEmptyPatternDisabled(t *testing.T) {
	path, err := debugDumpPath("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestDebugDumpPathExpandsPattern(t *testing.T) {
	path, err := debugDumpPath("dump-%Y.dmx")
	require.NoError(t, err)
	assert.Regexp(t, `^dump-\d{4}\.dmx$`, path)
}

func TestGPIOEnableNilWhenChipUnset(t *testing.T) {
	assert.Nil(t, gpioEnable(config.Config{}))
}

func TestGPIOEnableSetWhenChipGiven(t *testing.T) {
	gpio := gpioEnable(config.Config{GPIOChip: "gpiochip0", GPIOLine: 4})
	require.NotNil(t, gpio)
	assert.Equal(t, "gpiochip0", gpio.Chip)
	assert.Equal(t, 4, gpio.Line)
}

func TestRunPrintsVersionAndExitsCleanly(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-v"}))
}

func TestRunRejectsBadListenURIScheme(t *testing.T) {
	assert.Equal(t, 2, run([]string{"-U", "osc.tcp://:6666"}))
}
