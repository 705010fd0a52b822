package roller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/rollctl/internal/observability"
	"github.com/danmuck/rollctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Driver runs one Session against one connection.
type Driver struct {
	cfg   session.Config
	clock clock.Clock
	sess  *session.Session

	// afterStep is called after the actions of every step have run.
	afterStep func(session.State)
}

func NewDriver(cfg session.Config, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{
		cfg:   cfg.WithDefaults(),
		clock: clk,
		sess:  session.New(),
	}
}

// Session exposes the session the driver owns, for status reads.
func (d *Driver) Session() *session.Session {
	return d.sess
}

type inbound struct {
	data []byte
	err  error
}

// Run drives conn until the context ends, the peer goes away, or the peer
// violates the protocol. Cancellation returns nil; conn is always closed on
// return.
func (d *Driver) Run(ctx context.Context, conn net.Conn) error {
	chunks := make(chan inbound, 1)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		d.readLoop(conn, chunks, stop)
	}()
	defer func() {
		close(stop)
		_ = conn.Close()
		<-readerDone
	}()

	var timer *clock.Timer
	var timerC <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	step := func(ev session.Event) error {
		for _, a := range d.sess.Step(ev) {
			switch a.Kind {
			case session.ActionSend:
				if err := d.write(conn, a.Payload); err != nil {
					return fmt.Errorf("%w: write: %v", ErrConnectionLost, err)
				}
				observability.RecordCommandSent(string(a.Payload))
			case session.ActionReport:
				observability.RecordResult(a.Result.Matched)
			case session.ActionSchedule:
				stopTimer()
				timer = d.clock.Timer(d.cfg.RollInterval)
				timerC = timer.C
			case session.ActionClose:
				stopTimer()
				observability.RecordProtocolViolation()
				_ = conn.Close()
				return fmt.Errorf("%w: %s on %s event", ErrProtocolViolation, a.Reason, ev.Kind)
			}
		}
		if d.afterStep != nil {
			d.afterStep(d.sess.State())
		}
		return nil
	}

	cancelled := func() error {
		stopTimer()
		log.Info().Str("state", d.sess.State().String()).Msg("session cancelled")
		return nil
	}

	if ctx.Err() != nil {
		return cancelled()
	}
	if err := step(session.Connected()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return cancelled()
		case in := <-chunks:
			// select picks randomly among ready cases; a cancel that raced
			// the read must still win.
			if ctx.Err() != nil {
				return cancelled()
			}
			if in.err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, in.err)
			}
			if err := step(session.Data(in.data)); err != nil {
				return err
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if ctx.Err() != nil {
				return cancelled()
			}
			if err := step(session.TimerFired()); err != nil {
				return err
			}
		}
	}
}

// readLoop forwards one chunk per Read until the first error or until stop
// is closed.
func (d *Driver) readLoop(conn net.Conn, out chan<- inbound, stop <-chan struct{}) {
	buf := make([]byte, d.cfg.ReadBufferSize)
	deliver := func(in inbound) bool {
		select {
		case out <- in:
			return true
		case <-stop:
			return false
		}
	}
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !deliver(inbound{data: chunk}) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = fmt.Errorf("connection closed: %w", err)
			}
			deliver(inbound{err: err})
			return
		}
	}
}

func (d *Driver) write(conn net.Conn, payload []byte) error {
	if d.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	}
	_, err := conn.Write(payload)
	return err
}
