package broadcast

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
	statsInterval  = 30 * time.Second
	cmdChannelSize = 256
)

// Stats is a point-in-time view of the registry's collections.
type Stats struct {
	Users             int `json:"users"`
	IdentifiedHandles int `json:"identifiedHandles"`
	AnonymousHandles  int `json:"anonymousHandles"`
	Total             int `json:"total"`
}

// Delivery reports what one broadcast did per handle. Pruned counts handles
// whose buffer was full or whose write failed; they are gone from the
// registry when the call returns.
type Delivery struct {
	Delivered int
	Skipped   int
	Pruned    int
}

type target int

const (
	targetIdentified target = iota
	targetAnonymous
	targetAll
	targetUser
	targetHandle
)

// owner records which collection a transport lives in.
type owner struct {
	anonymous bool
	userID    uuid.UUID
}

type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	owner        owner
	connection   Transport
	greeting     []byte
	summary      []byte
	summaryAt    time.Time
	errorChannel chan error
}

type unregisterCmd struct {
	baseRegistryCmd
	connection   Transport
	replyChannel chan bool
}

type broadcastCmd struct {
	baseRegistryCmd
	target       target
	exclude      *uuid.UUID
	userID       uuid.UUID
	connection   Transport
	data         []byte
	summaryAt    time.Time
	replyChannel chan Delivery
}

// pruneCmd carries the write failures of one broadcast back to the actor.
type pruneCmd struct {
	baseRegistryCmd
	failed       []writeFailure
	delivery     Delivery
	replyChannel chan Delivery
}

type writeFailure struct {
	connection Transport
	err        error
}

type statsCmd struct {
	baseRegistryCmd
	replyChannel chan Stats
}

type stopCmd struct {
	baseRegistryCmd
}

// Options tunes a Registry. Zero values fall back to defaults.
type Options struct {
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration
	MaxHandlesPerUser int
	// WriteTimeout bounds a single frame write and therefore how long a
	// broadcast waits for a slow handle.
	WriteTimeout time.Duration
}

// Welcome is queued on a new handle during registration, before any
// broadcast can reach it.
type Welcome struct {
	Greeting Outbound
	// Summary is the caller's snapshot for anonymous handles. If a
	// summary-update computed later has already been broadcast, that one is
	// sent instead.
	Summary *SummaryUpdate
}

// lastSummary is the most recent summary-update sent to anonymous handles.
type lastSummary struct {
	at   time.Time
	data []byte
}

// Registry owns every live connection handle. A single goroutine holds the
// identified and anonymous collections; all operations are commands sent to it
// and answered before the method returns.
type Registry struct {
	cmdCh             chan registryCmd
	clock             clockwork.Clock
	identified        map[uuid.UUID]map[Transport]*clientWriter
	anonymous         map[Transport]*clientWriter
	owners            map[Transport]owner
	heartbeat         time.Duration
	maxHandlesPerUser int
	writeTimeout      time.Duration
	lastSummary       *lastSummary
	done              chan struct{}
	stopTimeout       time.Duration
}

func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	r := &Registry{
		cmdCh:             make(chan registryCmd, cmdChannelSize),
		clock:             opts.Clock,
		identified:        make(map[uuid.UUID]map[Transport]*clientWriter),
		anonymous:         make(map[Transport]*clientWriter),
		owners:            make(map[Transport]owner),
		heartbeat:         opts.HeartbeatInterval,
		maxHandlesPerUser: opts.MaxHandlesPerUser,
		writeTimeout:      opts.WriteTimeout,
		done:              make(chan struct{}),
		stopTimeout:       stopTimeout,
	}
	go r.run()
	return r
}

// RegisterIdentified adds conn to userID's set. It fails with
// domain.ErrTooManyHandles when the per-user cap is reached; the caller still
// owns conn in that case. Welcome.Summary is ignored for identified handles.
func (r *Registry) RegisterIdentified(userID uuid.UUID, conn Transport, welcome Welcome) error {
	welcome.Summary = nil
	return r.register(owner{userID: userID}, conn, welcome)
}

// RegisterAnonymous adds conn to the anonymous set and starts its heartbeat.
func (r *Registry) RegisterAnonymous(conn Transport, welcome Welcome) error {
	return r.register(owner{anonymous: true}, conn, welcome)
}

func (r *Registry) register(o owner, conn Transport, welcome Welcome) error {
	cmd := registerCmd{owner: o, connection: conn, errorChannel: make(chan error, 1)}
	if welcome.Greeting != nil {
		data, err := Encode(welcome.Greeting)
		if err != nil {
			return err
		}
		cmd.greeting = data
	}
	if welcome.Summary != nil {
		data, err := Encode(*welcome.Summary)
		if err != nil {
			return err
		}
		cmd.summary, cmd.summaryAt = data, welcome.Summary.Data.LastUpdated
	}

	errCh := cmd.errorChannel
	if err := r.send(cmd); err != nil {
		return err
	}
	return await(r, errCh, func(err error) error { return err }, func(e error) error { return e })
}

// Unregister removes conn from whichever collection holds it and closes it.
// Removing an unknown handle is a no-op and returns false.
func (r *Registry) Unregister(conn Transport) bool {
	replyCh := make(chan bool, 1)
	if err := r.send(unregisterCmd{connection: conn, replyChannel: replyCh}); err != nil {
		return false
	}
	return await(r, replyCh, func(ok bool) bool { return ok }, func(error) bool { return false })
}

// BroadcastToIdentified delivers msg to every identified handle except those
// registered under exclude, when given.
func (r *Registry) BroadcastToIdentified(msg Outbound, exclude *uuid.UUID) (Delivery, error) {
	return r.broadcast(broadcastCmd{target: targetIdentified, exclude: exclude}, msg)
}

func (r *Registry) BroadcastToAnonymous(msg Outbound) (Delivery, error) {
	return r.broadcast(broadcastCmd{target: targetAnonymous}, msg)
}

func (r *Registry) BroadcastToAll(msg Outbound) (Delivery, error) {
	return r.broadcast(broadcastCmd{target: targetAll}, msg)
}

// SendToUser delivers msg to all of one user's handles; no-op if there are none.
func (r *Registry) SendToUser(userID uuid.UUID, msg Outbound) (Delivery, error) {
	return r.broadcast(broadcastCmd{target: targetUser, userID: userID}, msg)
}

// Send delivers msg to a single registered handle.
func (r *Registry) Send(conn Transport, msg Outbound) (Delivery, error) {
	return r.broadcast(broadcastCmd{target: targetHandle, connection: conn}, msg)
}

func (r *Registry) broadcast(cmd broadcastCmd, msg Outbound) (Delivery, error) {
	data, err := Encode(msg)
	if err != nil {
		return Delivery{}, err
	}

	cmd.data = data
	if m, ok := msg.(SummaryUpdate); ok {
		cmd.summaryAt = m.Data.LastUpdated
	}
	cmd.replyChannel = make(chan Delivery, 1)
	if err := r.send(cmd); err != nil {
		return Delivery{}, err
	}
	// The reply waits for every handle's write, each bounded by writeTimeout.
	var timeoutErr error
	d := awaitFor(r, commandTimeout+r.writeTimeout, cmd.replyChannel, func(d Delivery) Delivery { return d }, func(e error) Delivery {
		timeoutErr = e
		return Delivery{}
	})
	return d, timeoutErr
}

// Stats returns current counts. A zero value is returned if the registry is
// stopped or unresponsive.
func (r *Registry) Stats() Stats {
	replyCh := make(chan Stats, 1)
	if err := r.send(statsCmd{replyChannel: replyCh}); err != nil {
		return Stats{}
	}
	return await(r, replyCh, func(s Stats) Stats { return s }, func(error) Stats { return Stats{} })
}

// Stop closes every handle with a close frame and stops every heartbeat.
// It blocks until the actor exits or the stop timeout passes.
func (r *Registry) Stop() {
	if err := r.send(stopCmd{}); err != nil {
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Info("Connection registry stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Connection registry stop timeout exceeded", "timeout", r.stopTimeout)
		metrics.RegistryStopTimeoutsTotal.Inc()
	}
}

func (r *Registry) send(cmd registryCmd) error {
	select {
	case <-r.done:
		return domain.ErrRegistryStopped
	default:
	}
	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.done:
		return domain.ErrRegistryStopped
	}
}

// await waits for a reply, the actor exiting, or the command timeout.
func await[T, R any](r *Registry, replyCh chan T, ok func(T) R, fail func(error) R) R {
	return awaitFor(r, commandTimeout, replyCh, ok, fail)
}

func awaitFor[T, R any](r *Registry, timeout time.Duration, replyCh chan T, ok func(T) R, fail func(error) R) R {
	timer := r.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-replyCh:
		return ok(v)
	case <-r.done:
		// The actor may have answered just before exiting.
		select {
		case v := <-replyCh:
			return ok(v)
		default:
			return fail(domain.ErrRegistryStopped)
		}
	case <-timer.Chan():
		slog.Warn("Connection registry command timed out", "timeout", timeout)
		return fail(fmt.Errorf("%w after %v", domain.ErrRegistryTimedOut, timeout))
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Connection registry panic recovered", "panic", p)
			metrics.RegistryPanicsTotal.Inc()
			r.closeAll("registry failure")
		}
	}()

	statsTicker := r.clock.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-statsTicker.Chan():
			r.reportStats()

		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.errorChannel <- r.handleRegister(c)
			case unregisterCmd:
				c.replyChannel <- r.removeHandle(c.connection)
			case broadcastCmd:
				r.handleBroadcast(c)
			case pruneCmd:
				r.handlePrune(c)
			case statsCmd:
				c.replyChannel <- r.stats()
			case stopCmd:
				r.handleStop()
				return
			default:
				slog.Warn("Connection registry received unknown command", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) error {
	if _, exists := r.owners[c.connection]; exists {
		return fmt.Errorf("connection already registered")
	}

	heartbeat := time.Duration(0)
	if c.owner.anonymous {
		heartbeat = r.heartbeat
	}

	if !c.owner.anonymous {
		if r.maxHandlesPerUser > 0 && len(r.identified[c.owner.userID]) >= r.maxHandlesPerUser {
			slog.Warn("Rejecting connection: per-user limit reached", "user_id", c.owner.userID.String(), "max_handles", r.maxHandlesPerUser)
			return fmt.Errorf("%w (%d)", domain.ErrTooManyHandles, r.maxHandlesPerUser)
		}
	}

	conn := c.connection
	cw := newClientWriter(conn, r.clock, heartbeat, r.writeTimeout, func(err error, fromHeartbeat bool) {
		r.onWriteFailure(conn, err, fromHeartbeat)
	})

	// The welcome frames go first; the handle is not yet visible to broadcasts.
	if c.greeting != nil {
		cw.enqueue(outgoing{data: c.greeting})
	}
	if c.owner.anonymous {
		if summary := r.newestSummary(c.summary, c.summaryAt); summary != nil {
			cw.enqueue(outgoing{data: summary})
		}
	}

	r.owners[conn] = c.owner
	if c.owner.anonymous {
		r.anonymous[conn] = cw
		slog.Debug("Anonymous connection registered", "anonymous_handles", len(r.anonymous))
	} else {
		handles, exists := r.identified[c.owner.userID]
		if !exists {
			handles = make(map[Transport]*clientWriter)
			r.identified[c.owner.userID] = handles
		}
		handles[conn] = cw
		slog.Debug("Identified connection registered", "user_id", c.owner.userID.String(), "user_handles", len(handles))
	}

	r.updateGauges()
	return nil
}

// onWriteFailure runs on its own goroutine after a writer gave up on its transport.
func (r *Registry) onWriteFailure(conn Transport, err error, fromHeartbeat bool) {
	switch {
	case fromHeartbeat || isClosedError(err):
		slog.Debug("Connection gone, removing", "heartbeat", fromHeartbeat, "error", err)
	default:
		slog.Warn("Connection write failed, removing", "error", err)
		metrics.BroadcastDeliveriesTotal.WithLabelValues("faulted").Inc()
	}
	r.Unregister(conn)
}

// removeHandle is the single cleanup path for close hooks, heartbeat failures
// and broadcast faults. It reports whether conn was present.
func (r *Registry) removeHandle(conn Transport) bool {
	o, exists := r.owners[conn]
	if !exists {
		return false
	}
	delete(r.owners, conn)

	var cw *clientWriter
	if o.anonymous {
		cw = r.anonymous[conn]
		delete(r.anonymous, conn)
	} else {
		handles := r.identified[o.userID]
		cw = handles[conn]
		delete(handles, conn)
		if len(handles) == 0 {
			delete(r.identified, o.userID)
			slog.Debug("Last connection for user removed", "user_id", o.userID.String())
		}
	}

	if cw != nil {
		cw.stop()
	}
	r.updateGauges()
	return true
}

// handleBroadcast queues the frame on every target handle. Full buffers are
// pruned at once; the writes themselves are awaited off the actor goroutine
// and come back as a pruneCmd, so the caller is answered only after failing
// handles are gone.
func (r *Registry) handleBroadcast(c broadcastCmd) {
	var d Delivery
	var full []Transport
	var pending []pendingWrite

	deliver := func(conn Transport, cw *clientWriter) {
		if !cw.isOpen() {
			d.Skipped++
			return
		}
		p := pendingWrite{connection: conn, writer: cw, result: make(chan error, 1)}
		if !cw.enqueue(outgoing{data: c.data, result: p.result}) {
			full = append(full, conn)
			return
		}
		pending = append(pending, p)
	}

	switch c.target {
	case targetIdentified, targetAll:
		for userID, handles := range r.identified {
			if c.exclude != nil && userID == *c.exclude {
				continue
			}
			for conn, cw := range handles {
				deliver(conn, cw)
			}
		}
		if c.target == targetAll {
			for conn, cw := range r.anonymous {
				deliver(conn, cw)
			}
		}
	case targetAnonymous:
		for conn, cw := range r.anonymous {
			deliver(conn, cw)
		}
	case targetUser:
		for conn, cw := range r.identified[c.userID] {
			deliver(conn, cw)
		}
	case targetHandle:
		if o, ok := r.owners[c.connection]; ok {
			if o.anonymous {
				deliver(c.connection, r.anonymous[c.connection])
			} else {
				deliver(c.connection, r.identified[o.userID][c.connection])
			}
		}
	}

	if !c.summaryAt.IsZero() && (c.target == targetAnonymous || c.target == targetAll) {
		if r.lastSummary == nil || !c.summaryAt.Before(r.lastSummary.at) {
			r.lastSummary = &lastSummary{at: c.summaryAt, data: c.data}
		}
	}

	// Pruned after iteration so the maps are never mutated mid-range.
	for _, conn := range full {
		slog.Warn("Send buffer full, disconnecting connection")
		r.removeHandle(conn)
	}
	d.Pruned = len(full)

	if len(pending) == 0 {
		r.finishBroadcast(d, c.replyChannel)
		return
	}
	go r.collect(pending, d, c.replyChannel)
}

// collect waits for the queued writes of one broadcast and hands the outcome
// back to the actor.
func (r *Registry) collect(pending []pendingWrite, d Delivery, replyCh chan Delivery) {
	var failed []writeFailure
	for _, p := range pending {
		written, err := p.wait()
		switch {
		case !written:
			d.Skipped++
		case err != nil:
			failed = append(failed, writeFailure{connection: p.connection, err: err})
		default:
			d.Delivered++
		}
	}

	select {
	case r.cmdCh <- pruneCmd{failed: failed, delivery: d, replyChannel: replyCh}:
	case <-r.done:
	}
}

func (r *Registry) handlePrune(c pruneCmd) {
	d := c.delivery
	for _, f := range c.failed {
		if isClosedError(f.err) {
			slog.Debug("Connection gone, removing", "error", f.err)
		} else {
			slog.Warn("Connection write failed, removing", "error", f.err)
		}
		if r.removeHandle(f.connection) {
			d.Pruned++
		} else {
			d.Skipped++
		}
	}
	r.finishBroadcast(d, c.replyChannel)
}

func (r *Registry) finishBroadcast(d Delivery, replyCh chan Delivery) {
	metrics.BroadcastDeliveriesTotal.WithLabelValues("delivered").Add(float64(d.Delivered))
	metrics.BroadcastDeliveriesTotal.WithLabelValues("skipped").Add(float64(d.Skipped))
	metrics.BroadcastDeliveriesTotal.WithLabelValues("faulted").Add(float64(d.Pruned))
	replyCh <- d
}

// newestSummary picks between a registering handle's snapshot and the last
// summary broadcast to anonymous handles, preferring the later one. No
// snapshot means the caller wants none.
func (r *Registry) newestSummary(snapshot []byte, at time.Time) []byte {
	if snapshot != nil && r.lastSummary != nil && r.lastSummary.at.After(at) {
		return r.lastSummary.data
	}
	return snapshot
}

func (r *Registry) stats() Stats {
	s := Stats{Users: len(r.identified), AnonymousHandles: len(r.anonymous)}
	for _, handles := range r.identified {
		s.IdentifiedHandles += len(handles)
	}
	s.Total = s.IdentifiedHandles + s.AnonymousHandles
	return s
}

func (r *Registry) updateGauges() {
	s := r.stats()
	metrics.RegistryIdentifiedUsers.Set(float64(s.Users))
	metrics.RegistryHandles.WithLabelValues("identified").Set(float64(s.IdentifiedHandles))
	metrics.RegistryHandles.WithLabelValues("anonymous").Set(float64(s.AnonymousHandles))
}

func (r *Registry) reportStats() {
	depth := len(r.cmdCh)
	metrics.RegistryCommandChannelDepth.Set(float64(depth))
	if depth > cmdChannelSize*8/10 {
		slog.Warn("Registry command channel near capacity", "depth", depth, "capacity", cap(r.cmdCh))
	}

	s := r.stats()
	slog.Debug("Connection registry stats",
		"users", s.Users,
		"identified_handles", s.IdentifiedHandles,
		"anonymous_handles", s.AnonymousHandles,
		"total", s.Total,
	)
}

func (r *Registry) handleStop() {
	s := r.stats()
	slog.Info("Connection registry shutting down", "users", s.Users, "total_handles", s.Total)
	r.closeAll("server shutting down")
	slog.Info("Connection registry shutdown complete", "disconnected_handles", s.Total)
}

// closeAll closes every handle with a close frame. Used on shutdown and after
// a recovered panic.
func (r *Registry) closeAll(reason string) {
	for conn, cw := range r.anonymous {
		cw.stopGraceful(reason)
		delete(r.anonymous, conn)
	}
	for userID, handles := range r.identified {
		for _, cw := range handles {
			cw.stopGraceful(reason)
		}
		delete(r.identified, userID)
	}
	clear(r.owners)
	r.updateGauges()
}
