package yeelight

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// command is one line of the LAN control protocol.
type command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func newCommand(id int, method string, params ...any) command {
	if params == nil {
		params = []any{}
	}
	return command{ID: id, Method: method, Params: params}
}

// String encodes the command as a CRLF terminated JSON line.
func (c *command) String() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal bulb command")
	}

	return string(b) + lineEnding, nil
}
