package stdoutwriter

import (
	"encoding/json"

	"github.com/pterm/pterm"

	"github.com/bartossh/Courier/logger"
)

// Logger writes JSON logs to the terminal, coloured by level.
type Logger struct{}

func (l Logger) Write(p []byte) (n int, err error) {
	var entry logger.Log
	if err := json.Unmarshal(p, &entry); err != nil {
		pterm.Println(string(p))
		return len(p), nil
	}
	msg := entry.Msg
	if entry.Component != "" {
		msg = "[" + entry.Component + "] " + msg
	}
	switch entry.Level {
	case "debug":
		pterm.Debug.Println(msg)
	case "warn":
		pterm.Warning.Println(msg)
	case "error":
		pterm.Error.Println(msg)
	case "fatal":
		pterm.Fatal.WithFatal(false).Println(msg)
	default:
		pterm.Info.Println(msg)
	}
	return len(p), nil
}
