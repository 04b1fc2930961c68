package yeelight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandString(t *testing.T) {
	cmd := newCommand(42, "set_rgb", uint(0xff0000), Sudden, 0)
	str, err := cmd.String()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(str, lineEnding))
	assert.Equal(t, `{"id":42,"method":"set_rgb","params":[16711680,"sudden",0]}`+lineEnding, str)
}

func TestCommandWithoutParamsSendsEmptyList(t *testing.T) {
	cmd := newCommand(1, "stop_cf")
	str, err := cmd.String()
	require.NoError(t, err)
	assert.Contains(t, str, `"params":[]`)
}

func TestCommandStringError(t *testing.T) {
	cmd := command{ID: 1, Method: "test", Params: []any{make(chan int)}}
	_, err := cmd.String()
	assert.Error(t, err)
}
