package broadcast

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	messageBufferSize   = 16
)

// Transport is the write side of a live connection. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

var pingFrame = []byte(`{"type":"ping"}`)

// outgoing is one queued frame. A non-nil result receives the write outcome,
// in which case a failure is left to whoever waits on it.
type outgoing struct {
	data   []byte
	result chan error
}

// clientWriter is the only goroutine that writes to its transport. A non-zero
// heartbeat makes it send a ping frame on every tick.
type clientWriter struct {
	connection   Transport
	clock        clockwork.Clock
	heartbeat    time.Duration
	writeTimeout time.Duration
	onFailure    func(err error, heartbeat bool)
	sendChannel  chan outgoing
	doneChannel  chan struct{}
	exited       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func newClientWriter(connection Transport, clock clockwork.Clock, heartbeat, writeTimeout time.Duration, onFailure func(error, bool)) *clientWriter {
	cw := &clientWriter{
		connection:   connection,
		clock:        clock,
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		onFailure:    onFailure,
		sendChannel:  make(chan outgoing, messageBufferSize),
		doneChannel:  make(chan struct{}),
		exited:       make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()
	defer close(cw.exited)

	var tick <-chan time.Time
	if cw.heartbeat > 0 {
		ticker := cw.clock.NewTicker(cw.heartbeat)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			err := cw.write(msg.data)
			if msg.result != nil {
				msg.result <- err
			}
			if err != nil {
				if msg.result == nil {
					cw.fail(err, false)
				}
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-tick:
			if err := cw.write(pingFrame); err != nil {
				metrics.HeartbeatFailuresTotal.Inc()
				cw.fail(err, true)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

func (cw *clientWriter) write(msg []byte) error {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(cw.writeTimeout))
	return cw.connection.WriteMessage(websocket.TextMessage, msg)
}

// fail reports a write error unless the writer is already being stopped.
func (cw *clientWriter) fail(err error, heartbeat bool) {
	select {
	case <-cw.doneChannel:
		return
	default:
	}
	if cw.onFailure != nil {
		go cw.onFailure(err, heartbeat)
	}
}

// isOpen reports whether the writer goroutine is still accepting messages.
func (cw *clientWriter) isOpen() bool {
	select {
	case <-cw.exited:
		return false
	case <-cw.doneChannel:
		return false
	default:
		return true
	}
}

// enqueue hands msg to the writer without blocking; false means the buffer is full.
func (cw *clientWriter) enqueue(msg outgoing) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		// The run goroutine must be gone before anyone else writes.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(cw.writeTimeout))
		_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

// pendingWrite tracks one broadcast frame until its writer has dealt with it.
type pendingWrite struct {
	connection Transport
	writer     *clientWriter
	result     chan error
}

// wait blocks until the frame was written or the writer exited without
// reaching it; written is false in the latter case.
func (p pendingWrite) wait() (written bool, err error) {
	select {
	case err := <-p.result:
		return true, err
	case <-p.writer.exited:
		select {
		case err := <-p.result:
			return true, err
		default:
			return false, nil
		}
	}
}

// isClosedError reports transport errors that just mean the peer is gone.
func isClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
