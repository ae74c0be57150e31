// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mdp

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"hermes/internal/logger"
)

// BrokerStats is pure observability, absent from the distilled protocol
// but present throughout the corpus (request/reply/heartbeat counters);
// it has no effect on dispatch semantics.
type BrokerStats struct {
	Services           int
	Workers            int
	Requests           int
	Responses          int
	HeartbeatsReceived int
	HeartbeatsSent     int
	StartTime          time.Time
	LastRequest        time.Time
	LastHeartbeat      time.Time
}

// BrokerOption configures a Broker at construction time.
type BrokerOption func(*Broker)

// WithPollInterval overrides the default poll wakeup cadence.
func WithPollInterval(d time.Duration) BrokerOption {
	return func(b *Broker) { b.pollInterval = d }
}

// WithRequestTimeout overrides the default per-request expiry.
func WithRequestTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) { b.requestTimeout = d }
}

// WithHeartbeat overrides the heartbeat interval and liveness.
func WithHeartbeat(interval time.Duration, liveness int) BrokerOption {
	return func(b *Broker) {
		b.heartbeatInterval = interval
		b.heartbeatLiveness = liveness
	}
}

// Audit event kinds. Mirrored by mdpstore's own constants of the same
// string values so a broker wired to a mdpstore.Store needs no translation.
const (
	KindWorkerRegistered  = "worker_registered"
	KindWorkerEvicted     = "worker_evicted"
	KindRequestDispatched = "request_dispatched"
	KindReplyRouted       = "reply_routed"
)

// AuditSink receives a fire-and-forget notification for every lifecycle
// event a broker produces. It exists purely for offline audit trails
// (e.g. mdpstore); a nil sink (the default) disables auditing entirely.
type AuditSink interface {
	Record(kind, service, peer, detail string) error
}

// WithAuditSink attaches an audit sink. Record errors are logged, never
// propagated — an audit trail must never affect dispatch behavior.
func WithAuditSink(sink AuditSink) BrokerOption {
	return func(b *Broker) { b.audit = sink }
}

// Broker is the Broker Reactor (C4): it owns the public router socket
// and a private control pull, multiplexing multipart frames between
// clients and workers grouped by service.
type Broker struct {
	mu sync.RWMutex

	id      string
	address string
	ctx     *Context

	router      Socket
	controlPull Socket
	controlURI  string

	pollInterval      time.Duration
	requestTimeout    time.Duration
	heartbeatInterval time.Duration
	heartbeatLiveness int

	services map[string]*service
	workers  map[string]*workerRecord
	hb       *heartbeatManager

	dedupe *lru.Cache[string, time.Time]
	audit  AuditSink

	log   zerolog.Logger
	stats BrokerStats

	// newPoller builds the poller used by Step. Overridden in tests to
	// inject an in-memory poller instead of a real zmq4 one.
	newPoller func() Poller

	stopOnce sync.Once
	done     chan struct{}
}

// NewBroker builds a broker bound to address once Start is called. ctx
// is the transport context it will create its sockets on.
func NewBroker(ctx *Context, address string, opts ...BrokerOption) *Broker {
	id := uuid.NewString()
	dedupe, _ := lru.New[string, time.Time](256)

	b := &Broker{
		id:                id,
		address:           address,
		ctx:               ctx,
		controlURI:        controlURI("broker", id),
		pollInterval:      DefaultPollInterval,
		requestTimeout:    DefaultRequestTimeout,
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatLiveness: DefaultHeartbeatLiveness,
		services:          make(map[string]*service),
		workers:           make(map[string]*workerRecord),
		dedupe:            dedupe,
		log:               logger.New(),
		stats:             BrokerStats{StartTime: time.Now()},
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.hb = newHeartbeatManager(b.heartbeatInterval, b.heartbeatLiveness)
	b.newPoller = func() Poller { return ctx.NewPoller() }
	return b
}

// Start binds the router and control sockets. It does not run the loop;
// call Serve (or drive Step yourself) afterwards.
func (b *Broker) Start() error {
	router, err := b.ctx.NewRouter(b.address)
	if err != nil {
		return err
	}
	controlPull, err := b.ctx.NewPullBind(b.controlURI)
	if err != nil {
		router.Close()
		return err
	}

	b.mu.Lock()
	b.router = router
	b.controlPull = controlPull
	b.mu.Unlock()

	b.log.Info().Str("address", b.address).Msg("broker listening")
	return nil
}

// Stop connects a push socket to the control URI and sends TERMINATE —
// the only safe cross-thread way to ask the reactor to exit.
func (b *Broker) Stop() error {
	push, err := b.ctx.NewPushConnect(b.controlURI)
	if err != nil {
		return err
	}
	defer push.Close()
	return push.SendMessage(Frames{[]byte(Terminate)})
}

// Done returns a channel closed once Serve has returned.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Serve runs Step in a loop until a TERMINATE is received.
func (b *Broker) Serve() error {
	defer b.stopOnce.Do(func() { close(b.done) })
	for {
		terminated, err := b.Step()
		if err != nil {
			return err
		}
		if terminated {
			return nil
		}
	}
}

// Step runs exactly one poll tick: the test hook called out in the
// design notes as the "principal test hook" for the stepwise reactor.
// Returns true once TERMINATE has been observed and both sockets closed.
func (b *Broker) Step() (bool, error) {
	poller := b.newPoller()
	poller.Add(controlKey, b.controlPull)
	poller.Add("router", b.router)

	ready, err := poller.Poll(b.pollInterval)
	if err != nil {
		return false, fmt.Errorf("mdp: broker poll: %w", err)
	}

	for _, key := range ready {
		switch key {
		case controlKey:
			frames, err := b.controlPull.RecvMessageBytes()
			if err == nil && len(frames) > 0 && string(frames[0]) == Terminate {
				b.log.Info().Msg("broker received TERMINATE")
				b.router.Close()
				b.controlPull.Close()
				return true, nil
			}
		case "router":
			frames, err := b.router.RecvMessageBytes()
			if err != nil {
				b.log.Warn().Err(err).Msg("broker recv error")
				continue
			}
			if err := b.handleFrame(frames); err != nil {
				b.log.Warn().Err(err).Msg("dropping malformed or hostile message")
			}
		}
	}

	b.tickHeartbeats()
	return false, nil
}

// handleFrame accepts one multipart message as
// [sender_addr, EMPTY, magic, ...body] per §4.4 step 3.
func (b *Broker) handleFrame(msg Frames) error {
	if len(msg) < 3 {
		return fmt.Errorf("malformed message: %d frames", len(msg))
	}
	sender := string(msg[0])
	if !IsEmpty(msg[1]) {
		return fmt.Errorf("missing empty delimiter frame from %s", sender)
	}
	magic := string(msg[2])
	body := msg[3:]

	switch magic {
	case ClientMagic:
		return b.handleClient(sender, body)
	case WorkerMagic:
		return b.handleWorker(sender, body)
	default:
		return fmt.Errorf("UnknownMagic: %q from %s", magic, sender)
	}
}

// handleClient implements §4.4 "Client handling".
func (b *Broker) handleClient(clientAddr string, body Frames) error {
	if len(body) < 1 {
		return fmt.Errorf("client message missing service name")
	}
	serviceName := string(body[0])
	payload := body[1:]

	b.mu.Lock()
	svc, ok := b.services[serviceName]
	if !ok {
		svc = newService(serviceName)
		b.services[serviceName] = svc
	}
	svc.queueRequest(clientAddr, payload, b.requestTimeout)
	b.stats.Requests++
	b.stats.LastRequest = time.Now()
	b.mu.Unlock()

	b.dispatch(svc)
	return nil
}

// handleWorker implements §4.4 "Worker handling". hear_from is recorded
// first regardless of command, as required.
func (b *Broker) handleWorker(workerAddr string, body Frames) error {
	b.hb.hearFrom(workerAddr)

	if len(body) < 1 {
		return fmt.Errorf("worker message missing command")
	}
	command := string(body[0])
	args := body[1:]

	switch command {
	case Ready:
		if len(args) < 1 {
			return fmt.Errorf("READY missing service name")
		}
		return b.registerWorker(workerAddr, string(args[0]))
	case Reply:
		if len(args) < 2 {
			return fmt.Errorf("REPLY missing client address or empty separator")
		}
		clientAddr := args[0]
		if !IsEmpty(args[1]) {
			return fmt.Errorf("REPLY missing empty separator")
		}
		return b.handleWorkerReply(workerAddr, clientAddr, args[2:])
	case Heartbeat:
		// liveness already refreshed by hearFrom above; only count it
		b.mu.Lock()
		b.stats.HeartbeatsReceived++
		b.mu.Unlock()
		return nil
	case Disconnect:
		b.deleteWorker(workerAddr, false)
		return nil
	default:
		return fmt.Errorf("unknown worker command: %q", command)
	}
}

// registerWorker implements C2 register(): any existing binding for addr
// is unconditionally torn down (disconnect=true) before the new one is
// installed, mirroring the original broker's unconditional delete(True) in
// its READY handler (§4.2) — including a same-service re-READY, so a
// worker mid-dispatch on an outstanding request never gets re-added to the
// ready stack under its old binding (§7, §8 invariant 8).
func (b *Broker) registerWorker(addr, serviceName string) error {
	b.mu.Lock()
	if existing, ok := b.workers[addr]; ok && existing.service != "" {
		b.mu.Unlock()
		b.deleteWorker(addr, true)
		b.mu.Lock()
	}

	svc, ok := b.services[serviceName]
	if !ok {
		svc = newService(serviceName)
		b.services[serviceName] = svc
	}

	wr := &workerRecord{address: addr, service: serviceName}
	b.workers[addr] = wr
	svc.workers[addr] = wr
	svc.markReady(addr)
	b.mu.Unlock()

	b.log.Info().Str("worker", addr).Str("service", serviceName).Msg("worker registered")
	b.auditRecord(KindWorkerRegistered, serviceName, addr, "")
	b.dispatch(svc)
	return nil
}

// handleWorkerReply implements C2 handle_client forwarding in reverse:
// the worker's reply is routed to the client and the worker marked ready.
func (b *Broker) handleWorkerReply(workerAddr string, clientAddr []byte, payload Frames) error {
	b.mu.Lock()
	wr, ok := b.workers[workerAddr]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("reply from unknown worker %s", workerAddr)
	}
	svc, ok := b.services[wr.service]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("reply from worker %s bound to unknown service %q", workerAddr, wr.service)
	}

	frames := ClientReplyFrames(wr.service, payload)
	if err := b.router.SendMessage(append(Frames{clientAddr}, frames...)); err != nil {
		return fmt.Errorf("send reply to client: %w", err)
	}

	b.mu.Lock()
	b.stats.Responses++
	b.mu.Unlock()

	b.mu.Lock()
	svc.markReady(workerAddr)
	b.mu.Unlock()
	b.auditRecord(KindReplyRouted, wr.service, workerAddr, string(clientAddr))
	b.dispatch(svc)
	return nil
}

// dispatch drains as many request/worker pairings as possible for svc,
// per §4.3. Requests are strictly FIFO; ready workers strictly LIFO.
func (b *Broker) dispatch(svc *service) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(svc.requests) > 0 {
		req := svc.requests[0]
		if time.Now().After(req.deadline) {
			svc.requests = svc.requests[1:]
			b.log.Debug().Str("service", svc.name).Str("client", req.clientAddr).Msg("request expired before dispatch")
			continue
		}

		addr := svc.popReadyWorker()
		if addr == "" {
			break // no live worker; leave the request queued
		}

		svc.requests = svc.requests[1:]
		if err := b.sendToWorker(addr, []byte(req.clientAddr), req.payload); err != nil {
			b.log.Error().Err(err).Str("worker", addr).Msg("failed to dispatch request")
			continue
		}
		b.markDispatched(svc.name, req.clientAddr, req.deadline)
		b.auditRecord(KindRequestDispatched, svc.name, addr, req.clientAddr)
	}
}

// markDispatched logs a DuplicateDispatch warning if the same
// (service, client, deadline) fingerprint is dispatched more than once —
// a cheap runtime check of invariant 2 (§8), diagnostic only.
func (b *Broker) markDispatched(svcName, clientAddr string, deadline time.Time) {
	key := fmt.Sprintf("%s|%s|%d", svcName, clientAddr, deadline.UnixNano())
	if _, seen := b.dedupe.Get(key); seen {
		b.log.Warn().Str("fingerprint", key).Msg("DuplicateDispatch: same request dispatched twice")
	}
	b.dedupe.Add(key, time.Now())
}

// sendToWorker sends [dest, EMPTY, "MDPW01", REQUEST, client_addr, EMPTY, ...payload]
// and refreshes the worker's outbound heartbeat clock, per §3's
// "every outbound worker frame refreshes next_beat_due_at".
func (b *Broker) sendToWorker(workerAddr string, clientAddr []byte, payload Frames) error {
	frames := BrokerRequestFrames(clientAddr, payload)
	if err := b.router.SendMessage(append(Frames{[]byte(workerAddr)}, frames...)); err != nil {
		return err
	}
	b.hb.sendTo(workerAddr)
	return nil
}

// deleteWorker implements C2 delete(): optionally emits DISCONNECT, then
// unregisters the worker from its service and the heartbeat manager.
func (b *Broker) deleteWorker(addr string, disconnect bool) {
	if disconnect && b.router != nil {
		frames := BrokerDisconnectFrames()
		_ = b.router.SendMessage(append(Frames{[]byte(addr)}, frames...))
	}

	b.mu.Lock()
	wr, ok := b.workers[addr]
	if ok {
		if svc, ok := b.services[wr.service]; ok {
			svc.removeWorker(addr)
		}
		delete(b.workers, addr)
	}
	b.mu.Unlock()

	b.hb.discardPeer(addr)
	if ok {
		b.log.Info().Str("worker", addr).Str("service", wr.service).Msg("worker removed")
		b.auditRecord(KindWorkerEvicted, wr.service, addr, "")
	}
}

// tickHeartbeats implements §4.4 step 5: runs every tick, even on idle.
func (b *Broker) tickHeartbeats() {
	for _, addr := range b.hb.needBeats() {
		frames := BrokerHeartbeatFrames()
		if err := b.router.SendMessage(append(Frames{[]byte(addr)}, frames...)); err != nil {
			b.log.Warn().Err(err).Str("peer", addr).Msg("failed to send heartbeat")
			continue
		}
		b.hb.sendTo(addr)
		b.mu.Lock()
		b.stats.HeartbeatsSent++
		b.stats.LastHeartbeat = time.Now()
		b.mu.Unlock()
	}

	for _, addr := range b.hb.reap() {
		b.mu.RLock()
		_, isWorker := b.workers[addr]
		b.mu.RUnlock()
		if isWorker {
			b.log.Warn().Str("worker", addr).Msg("worker liveness expired, evicting")
			b.deleteWorker(addr, false)
		}
	}
}

// Stats returns a snapshot of broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.stats
	s.Services = len(b.services)
	s.Workers = len(b.workers)
	return s
}

// Services returns the name and worker count of every known service.
func (b *Broker) Services() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.services))
	for name, svc := range b.services {
		out[name] = len(svc.workers)
	}
	return out
}

// Workers returns the service binding of every known worker address.
func (b *Broker) Workers() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.workers))
	for addr, wr := range b.workers {
		out[addr] = wr.service
	}
	return out
}

// auditRecord forwards an event to the configured sink, if any, logging
// rather than propagating a write failure.
func (b *Broker) auditRecord(kind, service, peer, detail string) {
	if b.audit == nil {
		return
	}
	if err := b.audit.Record(kind, service, peer, detail); err != nil {
		b.log.Warn().Err(err).Str("kind", kind).Msg("audit sink write failed")
	}
}

// Address returns the broker's router bind address.
func (b *Broker) Address() string {
	return b.address
}

// EvictWorker forcibly disconnects a known worker, e.g. at an operator's
// request via the admin API. Reports whether addr was a known worker.
func (b *Broker) EvictWorker(addr string) bool {
	b.mu.RLock()
	_, ok := b.workers[addr]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	b.deleteWorker(addr, true)
	return true
}
