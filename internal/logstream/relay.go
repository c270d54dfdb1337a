// Package logstream relays a live supervisor log stream to a caller sink
// for a bounded wall-clock time.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/castla94/gestor-chatbot/internal/supervisor"
	"github.com/castla94/gestor-chatbot/prometheus"
	"go.uber.org/zap"
)

// ClosedTrailer ends a stream whose log process exited first
const ClosedTrailer = "\nProceso de logs cerrado."

// TimeoutTrailer ends a stream cut off by the timer
func TimeoutTrailer(d time.Duration) string {
	return fmt.Sprintf("\nConexión cerrada después de %s segundos.", strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

// Outcome is the terminal state of a stream
type Outcome string

const (
	// TimedOut means the timer fired and the log process was killed
	TimedOut Outcome = "timeout"
	// ClosedByProcess means the log process ended on its own
	ClosedByProcess Outcome = "closed"
	// Canceled means the caller went away (request context done or sink write failed).
	// The closed trailer is still attempted.
	Canceled Outcome = "canceled"
)

// Sink receives forwarded chunks
type Sink interface {
	WriteChunk(p []byte) error
	Close() error
}

// Streamer opens a live log stream for a process
type Streamer interface {
	StreamLogs(ctx context.Context, processName string) (supervisor.Stream, error)
}

// Relay forwards log streams
type Relay struct {
	streamer Streamer
	timeout  time.Duration
	log      *zap.Logger
	metrics  *prometheus.Metrics
}

// NewRelay creates a relay cutting every stream after timeout
func NewRelay(streamer Streamer, timeout time.Duration, log *zap.Logger, metrics *prometheus.Metrics) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{streamer: streamer, timeout: timeout, log: log, metrics: metrics}
}

// Timeout returns the configured cutoff
func (r *Relay) Timeout() time.Duration {
	return r.timeout
}

// Session is an opened log stream and the moment it must be cut off
type Session struct {
	Stream   supervisor.Stream
	Deadline time.Time
}

// Open starts the log stream of processName. The cutoff is armed here, so a
// slow start counts against the timeout. Nothing is written to any sink until
// Forward is called, so a start failure can still be reported normally.
func (r *Relay) Open(ctx context.Context, processName string) (*Session, error) {
	if processName == "" {
		return nil, errors.New("process name is required")
	}
	deadline := time.Now().Add(r.timeout)
	stream, err := r.streamer.StreamLogs(ctx, processName)
	if err != nil {
		r.log.Error("Failed to start log stream", zap.String("process", processName), zap.Error(err))
		return nil, err
	}
	return &Session{Stream: stream, Deadline: deadline}, nil
}

// Forward copies every chunk of both output channels to sink in arrival
// order until the stream ends or the session deadline passes. Exactly one
// trailer is written and sink is closed before Forward returns.
func (r *Relay) Forward(ctx context.Context, processName string, session *Session, sink Sink) Outcome {
	stream := session.Stream
	log := r.log.With(zap.String("process", processName), zap.Duration("timeout", r.timeout))
	r.metrics.LogStreamOpened()
	log.Info("Log stream opened")

	chunks := make(chan []byte)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, src := range []io.Reader{stream.Stdout(), stream.Stderr()} {
		wg.Add(1)
		go func(src io.Reader) {
			defer wg.Done()
			pump(src, chunks, done)
		}(src)
	}
	ended := make(chan struct{})
	go func() {
		wg.Wait()
		close(ended)
	}()

	timer := time.NewTimer(time.Until(session.Deadline))
	defer timer.Stop()

	outcome := r.loop(ctx, log, chunks, ended, timer.C, sink)
	close(done)

	var trailer string
	switch outcome {
	case TimedOut:
		trailer = TimeoutTrailer(r.timeout)
	default:
		trailer = ClosedTrailer
	}

	if outcome == ClosedByProcess {
		if err := stream.Wait(); err != nil {
			log.Debug("Log process exited with error", zap.Error(err))
		}
	} else {
		if err := stream.Kill(); err != nil {
			log.Warn("Failed to kill log process", zap.Error(err))
		}
		// Wait closes the pipes once the process is gone (or after the
		// runner's wait delay), which unblocks any pump still reading
		go func() { _ = stream.Wait() }()
	}

	if err := sink.WriteChunk([]byte(trailer)); err != nil {
		log.Debug("Failed to write log stream trailer", zap.Error(err))
	}
	if err := sink.Close(); err != nil {
		log.Debug("Failed to close log sink", zap.Error(err))
	}

	r.metrics.LogStreamClosed(string(outcome))
	log.Info("Log stream closed", zap.String("outcome", string(outcome)))
	return outcome
}

func (r *Relay) loop(ctx context.Context, log *zap.Logger, chunks <-chan []byte, ended <-chan struct{}, expired <-chan time.Time, sink Sink) Outcome {
	for {
		select {
		case chunk := <-chunks:
			if err := sink.WriteChunk(chunk); err != nil {
				log.Info("Log sink write failed", zap.Error(err))
				return Canceled
			}
		case <-ended:
			return ClosedByProcess
		case <-expired:
			log.Info("Log stream timeout reached")
			return TimedOut
		case <-ctx.Done():
			return Canceled
		}
	}
}

// pump reads src until EOF and hands each chunk over, stopping early once done is closed
func pump(src io.Reader, chunks chan<- []byte, done <-chan struct{}) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Stream opens and forwards in one call
func (r *Relay) Stream(ctx context.Context, processName string, sink Sink) (Outcome, error) {
	session, err := r.Open(ctx, processName)
	if err != nil {
		return "", err
	}
	return r.Forward(ctx, processName, session, sink), nil
}
