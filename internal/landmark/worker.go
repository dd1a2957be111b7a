// Package landmark detects facial landmarks through an external face-mesh
// worker process. Frames go to the worker's stdin and meshes come back on
// its stdout, both as length-prefixed msgpack messages.
package landmark

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/blink-tracker/backend/internal/eye"
	"github.com/blink-tracker/backend/internal/tracker"
)

// ErrWorkerBroken is returned when the stream to the worker is unusable.
// The next Detect restarts the process.
var ErrWorkerBroken = errors.New("landmark worker unavailable")

type Config struct {
	Command     []string
	Timeout     time.Duration
	JPEGQuality int
}

// process is one running worker instance.
type process struct {
	in   io.WriteCloser
	out  io.Reader
	kill func()
}

// Worker is a tracker.LandmarkSource backed by a subprocess. Detect calls
// are serialized; one request is in flight at a time.
type Worker struct {
	cfg     Config
	encoder tracker.Encoder
	spawn   func(ctx context.Context) (*process, error)

	mu      sync.Mutex
	ctx     context.Context
	proc    *process
	seq     uint64
	pending chan result
	broken  error
	closed  bool
	wg      sync.WaitGroup
}

func NewWorker(cfg Config, encoder tracker.Encoder) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &Worker{cfg: cfg, encoder: encoder}
}

// Start spawns the worker process. The process is killed when ctx ends and
// restarted by Detect after a failure while ctx is alive.
func (w *Worker) Start(ctx context.Context) error {
	if w.spawn == nil {
		if len(w.cfg.Command) == 0 {
			return fmt.Errorf("landmark worker command is empty")
		}
		w.spawn = w.execProcess
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctx = ctx
	w.closed = false
	return w.launchLocked()
}

func (w *Worker) launchLocked() error {
	p, err := w.spawn(w.ctx)
	if err != nil {
		return err
	}
	w.proc = p
	w.pending = nil
	w.broken = nil
	return nil
}

func (w *Worker) execProcess(ctx context.Context) (*process, error) {
	cmd := exec.CommandContext(ctx, w.cfg.Command[0], w.cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start landmark worker: %w", err)
	}
	log.Printf("landmark: worker started (pid %d)", cmd.Process.Pid)

	p := &process{
		in:  stdin,
		out: stdout,
		kill: func() {
			stdin.Close()
			cmd.Process.Kill()
		},
	}
	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.wait(ctx, cmd, p)
	return p, nil
}

func (w *Worker) logStderr(r io.Reader) {
	defer w.wg.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Printf("landmark: worker: %s", sc.Text())
	}
}

func (w *Worker) wait(ctx context.Context, cmd *exec.Cmd, p *process) {
	defer w.wg.Done()
	err := cmd.Wait()

	w.mu.Lock()
	current := w.proc == p
	if current {
		w.broken = fmt.Errorf("%w: worker exited", ErrWorkerBroken)
	}
	w.mu.Unlock()

	switch {
	case ctx.Err() != nil:
		log.Println("landmark: worker exited (shutdown)")
	case !current:
		log.Println("landmark: replaced worker exited")
	case err != nil:
		log.Printf("landmark: worker exited unexpectedly: %v", err)
	default:
		log.Println("landmark: worker exited")
	}
}

// Detect sends frame to the worker and returns the first face's eyes, or
// nil when no face was found.
func (w *Worker) Detect(ctx context.Context, frame tracker.Frame) (*eye.Landmarks, error) {
	img, err := w.encoder.Encode(frame, w.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame for landmark worker: %w", err)
	}
	width, height := frame.Size()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.proc == nil {
		return nil, fmt.Errorf("%w: not started", ErrWorkerBroken)
	}
	if err := w.settleLocked(ctx); err != nil {
		return nil, err
	}

	w.seq++
	req := Request{Seq: w.seq, Image: img, Width: width, Height: height}

	p := w.proc
	done := make(chan result, 1)
	go func() {
		done <- roundTrip(p, req)
	}()

	res, err := w.awaitLocked(ctx, done)
	if err != nil {
		return nil, err
	}
	return landmarksFrom(res.resp)
}

// settleLocked drains a reply left over from an abandoned request and
// restarts the process if the stream is broken.
func (w *Worker) settleLocked(ctx context.Context) error {
	if w.pending != nil {
		done := w.pending
		w.pending = nil
		if _, err := w.awaitLocked(ctx, done); err != nil && w.broken == nil {
			return err
		}
	}
	if w.broken == nil {
		return nil
	}
	if w.ctx == nil || w.ctx.Err() != nil {
		return w.broken
	}

	log.Printf("landmark: restarting worker after failure: %v", w.broken)
	w.proc.kill()
	if err := w.launchLocked(); err != nil {
		w.broken = fmt.Errorf("%w: restart: %v", ErrWorkerBroken, err)
		return w.broken
	}
	return nil
}

// awaitLocked waits for one round trip. A cancelled ctx leaves the reply
// pending so the stream stays in sync. A timeout or stream error breaks the
// worker.
func (w *Worker) awaitLocked(ctx context.Context, done chan result) (result, error) {
	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			w.broken = fmt.Errorf("%w: %v", ErrWorkerBroken, res.err)
			return result{}, w.broken
		}
		return res, nil
	case <-timer.C:
		w.broken = fmt.Errorf("%w: no response within %s", ErrWorkerBroken, w.cfg.Timeout)
		return result{}, w.broken
	case <-ctx.Done():
		w.pending = done
		return result{}, ctx.Err()
	}
}

type result struct {
	resp Response
	err  error
}

func roundTrip(p *process, req Request) result {
	if err := WriteMessage(p.in, req); err != nil {
		return result{err: err}
	}
	var resp Response
	if err := ReadMessage(p.out, &resp); err != nil {
		return result{err: err}
	}
	if resp.Seq != req.Seq {
		return result{err: fmt.Errorf("response seq %d for request %d", resp.Seq, req.Seq)}
	}
	return result{resp: resp}
}

func landmarksFrom(resp Response) (*eye.Landmarks, error) {
	if resp.Error != "" {
		return nil, fmt.Errorf("landmark worker: %s", resp.Error)
	}
	if len(resp.Faces) == 0 {
		return nil, nil
	}
	l, ok := eye.FromMesh(resp.Faces[0])
	if !ok {
		return nil, fmt.Errorf("landmark worker: mesh has %d points", len(resp.Faces[0]))
	}
	return &l, nil
}

// Close ends the request stream and waits for the worker to exit.
func (w *Worker) Close() error {
	w.mu.Lock()
	p := w.proc
	w.proc = nil
	w.closed = true
	w.mu.Unlock()

	var err error
	if p != nil {
		err = p.in.Close()
	}
	w.wg.Wait()
	return err
}
