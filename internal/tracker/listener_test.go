package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

type countingStopper struct {
	stops atomic.Int64
}

func (s *countingStopper) Stop() { s.stops.Add(1) }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{`{"type":"stop_command"}`, StopCommand, false},
		{`{"type":" stop_command ","message":"bye"}`, StopCommand, false},
		{`{"type":"ping"}`, "ping", false},
		{`{"message":"no type"}`, "", true},
		{`not json`, "", true},
		{`"stop_command"`, "", true},
		{``, "", true},
	}

	for _, tt := range tests {
		cmd, err := ParseCommand([]byte(tt.input))
		if tt.wantErr {
			if !errors.Is(err, ErrMalformedCommand) {
				t.Errorf("ParseCommand(%q) error = %v, want ErrMalformedCommand", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCommand(%q) error = %v", tt.input, err)
			continue
		}
		if cmd.Type != tt.want {
			t.Errorf("ParseCommand(%q).Type = %q, want %q", tt.input, cmd.Type, tt.want)
		}
	}
}

func TestListenerStopsOnDirective(t *testing.T) {
	stopper := &countingStopper{}
	cmds := newChanCommands()
	cmds.ch <- []byte(`garbage`)
	cmds.ch <- []byte(`{"type":"hello"}`)
	cmds.ch <- []byte(`{"type":"stop_command"}`)
	cmds.ch <- []byte(`{"type":"stop_command"}`)

	if err := NewListener(stopper).Listen(context.Background(), cmds); err != nil {
		t.Fatalf("Listen = %v, want nil", err)
	}
	if got := stopper.stops.Load(); got != 1 {
		t.Errorf("Stop called %d times, want 1", got)
	}
	if len(cmds.ch) != 1 {
		t.Errorf("listener consumed past the stop directive, %d left", len(cmds.ch))
	}
}

func TestListenerDisconnect(t *testing.T) {
	stopper := &countingStopper{}
	cmds := newChanCommands()
	close(cmds.ch)

	err := NewListener(stopper).Listen(context.Background(), cmds)
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("Listen = %v, want ErrDisconnected", err)
	}
	if stopper.stops.Load() != 0 {
		t.Error("disconnect called Stop")
	}
}

type erroringCommands struct{ err error }

func (c erroringCommands) Next(context.Context) ([]byte, error) { return nil, c.err }

func TestListenerReadErrorIsDisconnect(t *testing.T) {
	err := NewListener(&countingStopper{}).Listen(context.Background(), erroringCommands{errors.New("EOF")})
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("Listen = %v, want ErrDisconnected", err)
	}
}

func TestListenerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewListener(&countingStopper{}).Listen(ctx, newChanCommands())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Listen = %v, want context.Canceled", err)
	}
}
