package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// StopCommand is the only directive the listener acts on.
const StopCommand = "stop_command"

type Command struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ParseCommand decodes a control message. Anything that is not a JSON
// object with a non-empty "type" is malformed.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	cmd.Type = strings.TrimSpace(cmd.Type)
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	}
	return cmd, nil
}

// Stopper is implemented by *Controller.
type Stopper interface {
	Stop()
}

// Listener watches a command channel and stops the session on request.
type Listener struct {
	stopper Stopper
}

func NewListener(stopper Stopper) *Listener {
	return &Listener{stopper: stopper}
}

// Listen returns nil after handling a stop directive, ErrDisconnected when
// the channel closes and ctx.Err() when cancelled. Malformed and unknown
// messages are logged and skipped.
func (l *Listener) Listen(ctx context.Context, src CommandSource) error {
	for {
		data, err := src.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrDisconnected) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrDisconnected, err)
		}

		cmd, err := ParseCommand(data)
		if err != nil {
			log.Printf("tracker: ignoring command: %v", err)
			continue
		}

		if cmd.Type != StopCommand {
			log.Printf("tracker: ignoring unknown command type %q", cmd.Type)
			continue
		}

		log.Printf("tracker: stop command received: %s", cmd.Message)
		l.stopper.Stop()
		return nil
	}
}
