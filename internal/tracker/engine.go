package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/blink-tracker/backend/internal/tracker")

type activeSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine is the session API used by the transport layer. At most one
// session runs at a time; starting another stops the current one first.
type Engine struct {
	ctrl     *Controller
	listener *Listener
	newID    func() string

	mu     sync.Mutex
	active *activeSession
}

func NewEngine(ctrl *Controller) *Engine {
	return &Engine{
		ctrl:     ctrl,
		listener: NewListener(ctrl),
		newID:    uuid.NewString,
	}
}

// StartSession runs a session until it ends and returns its terminal result.
// The camera is released before StartSession returns on every path.
func (e *Engine) StartSession(ctx context.Context, sink Sink, commands CommandSource, streamFrames bool) Result {
	sctx, release, err := e.acquire(ctx)
	if err != nil {
		return Result{Outcome: Stopped, Message: outcomeMessage(Stopped, nil), Err: err}
	}
	defer release()

	id := e.newID()
	sctx, span := tracer.Start(sctx, "tracker.session", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.Bool("session.stream_frames", streamFrames),
	))
	defer span.End()

	res := e.run(sctx, id, sink, commands, streamFrames)

	span.SetAttributes(
		attribute.String("session.outcome", res.Outcome.String()),
		attribute.Int64("session.blink_count", int64(res.BlinkCount)),
		attribute.Int64("session.frames", int64(res.Frames)),
	)
	if !res.Outcome.Success() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Message)
	}

	log.Printf("tracker: session %s ended: %s (%d blinks, %d frames)", id, res.Outcome, res.BlinkCount, res.Frames)
	return res
}

// acquire waits until no other session is active, stopping the current one
// if necessary, and registers the caller as the active session.
func (e *Engine) acquire(ctx context.Context) (context.Context, func(), error) {
	for {
		e.mu.Lock()
		if e.active == nil {
			sctx, cancel := context.WithCancel(ctx)
			s := &activeSession{cancel: cancel, done: make(chan struct{})}
			e.active = s
			e.mu.Unlock()

			release := func() {
				cancel()
				e.mu.Lock()
				e.active = nil
				e.mu.Unlock()
				close(s.done)
			}
			return sctx, release, nil
		}
		prev := e.active
		e.mu.Unlock()

		log.Println("tracker: eye tracker already running, stopping it first")
		prev.cancel()
		e.ctrl.Stop()

		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// run is the coordinator: both units start together, the first to finish
// wins and the other is cancelled and awaited. Stop runs exactly once here.
func (e *Engine) run(ctx context.Context, id string, sink Sink, commands CommandSource, streamFrames bool) (res Result) {
	res.SessionID = id

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.ctrl.Stop()

	if err := guard("open", func() error { return e.ctrl.Open(ctx, id, streamFrames) }); err != nil {
		res.Outcome = loopOutcome(err)
		res.Message = outcomeMessage(res.Outcome, err)
		res.Err = err
		return res
	}

	loopDone := make(chan error, 1)
	listenDone := make(chan error, 1)
	go func() {
		loopDone <- guard("acquisition loop", func() error { return e.ctrl.Loop(ctx, sink) })
	}()
	go func() {
		listenDone <- guard("command listener", func() error { return e.listener.Listen(ctx, commands) })
	}()

	var err error
	select {
	case err = <-loopDone:
		cancel()
		if lerr := <-listenDone; lerr != nil && errors.Is(lerr, ErrInternalFault) {
			log.Printf("tracker: command listener fault after loop exit: %v", lerr)
		}
		res.Outcome = loopOutcome(err)
	case err = <-listenDone:
		cancel()
		if lerr := <-loopDone; lerr != nil && errors.Is(lerr, ErrInternalFault) {
			log.Printf("tracker: acquisition loop fault after listener exit: %v", lerr)
		}
		res.Outcome = listenOutcome(err)
	}

	res.Err = err
	if res.Outcome.Success() {
		res.Err = nil
	}
	res.Message = outcomeMessage(res.Outcome, err)
	res.BlinkCount, res.Frames = e.ctrl.Delivered()
	return res
}

// guard converts a panic in fn into ErrInternalFault.
func guard(unit string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tracker: recovered panic in %s: %v\n%s", unit, r, debug.Stack())
			err = fmt.Errorf("%w: %s panicked: %v", ErrInternalFault, unit, r)
		}
	}()
	return fn()
}

// StopSession stops the active session, if any. A session that has not
// opened the camera yet is cancelled before it starts.
func (e *Engine) StopSession() {
	e.mu.Lock()
	if e.active != nil {
		e.active.cancel()
	}
	e.mu.Unlock()
	e.ctrl.Stop()
}

func (e *Engine) Status() Status {
	return e.ctrl.Status()
}
