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
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hermes/internal/logger"
)

// Handler is the application-level request handler invoked by a worker.
// It is a pure function supplied by the embedder: the runtime does no
// interpretation of payload frames, only routing.
type Handler interface {
	Handle(payload Frames) (Frames, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(Frames) (Frames, error)

// Handle calls f(payload).
func (f HandlerFunc) Handle(payload Frames) (Frames, error) { return f(payload) }

// WorkerStats is ambient observability, not part of the wire protocol.
type WorkerStats struct {
	RequestsHandled    int
	RequestsFailed     int
	Reconnections      int
	HeartbeatsSent     int
	HeartbeatsReceived int
	StartTime          time.Time
	LastRequest        time.Time
}

// WorkerOption configures a Worker at construction time.
type WorkerOption func(*Worker)

func WithWorkerPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

func WithWorkerHeartbeat(interval time.Duration, liveness int) WorkerOption {
	return func(w *Worker) {
		w.heartbeatInterval = interval
		w.liveness = liveness
	}
}

func WithReconnectDelay(d time.Duration) WorkerOption {
	return func(w *Worker) { w.reconnectDelay = d }
}

// onHandlerFailure controls the open question in §9/§7: what the worker
// does when the embedder's handler returns an error. The source leaves
// this unspecified; we default to "drop silently, let the client time
// out" and expose the alternative (empty reply) as an explicit choice,
// rather than guessing which the embedder wants.
type onHandlerFailure int

const (
	// DropOnHandlerFailure logs and sends no reply (default, §9).
	DropOnHandlerFailure onHandlerFailure = iota
	// EmptyReplyOnHandlerFailure sends a zero-frame reply instead.
	EmptyReplyOnHandlerFailure
)

// WithHandlerFailureMode selects what happens after Handler returns an
// error. See the open question in §9 of the design notes: the original
// source has no defined behavior here.
func WithHandlerFailureMode(mode onHandlerFailure) WorkerOption {
	return func(w *Worker) { w.failureMode = mode }
}

// Worker is the Worker Runtime (C5): a single-thread cooperative reactor
// owning a dealer socket connected to the broker, structurally identical
// in shape to the Broker Reactor.
type Worker struct {
	mu sync.Mutex

	id         string
	brokerAddr string
	service    string
	ctx        *Context
	handler    Handler

	dealer      Socket
	controlPull Socket
	controlURI  string

	pollInterval      time.Duration
	heartbeatInterval time.Duration
	liveness          int
	reconnectDelay    time.Duration
	failureMode       onHandlerFailure

	currentLiveness int
	nextHeartbeatAt time.Time
	reconnectTries  int

	log   zerolog.Logger
	stats WorkerStats

	// newPoller builds the poller used by Step. Overridden in tests to
	// inject an in-memory poller instead of a real zmq4 one.
	newPoller func() Poller

	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker builds a worker that will connect to brokerAddr and serve
// service once Start is called.
func NewWorker(ctx *Context, brokerAddr, service string, handler Handler, opts ...WorkerOption) *Worker {
	id := uuid.NewString()
	w := &Worker{
		id:                id,
		brokerAddr:        brokerAddr,
		service:           service,
		ctx:               ctx,
		handler:           handler,
		controlURI:        controlURI("worker", id),
		pollInterval:      DefaultPollInterval,
		heartbeatInterval: DefaultHeartbeatInterval,
		liveness:          DefaultHeartbeatLiveness,
		reconnectDelay:    DefaultReconnectDelay,
		log:               logger.New(),
		stats:             WorkerStats{StartTime: time.Now()},
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.newPoller = func() Poller { return ctx.NewPoller() }
	return w
}

// Start binds the control socket and performs the initial connect.
func (w *Worker) Start() error {
	controlPull, err := w.ctx.NewPullBind(w.controlURI)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.controlPull = controlPull
	w.mu.Unlock()

	return w.connect()
}

// connect implements §4.5 step 1: close any existing dealer, open a
// fresh one, connect, send READY, reset liveness and heartbeat clock.
func (w *Worker) connect() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dealer != nil {
		w.dealer.Close()
		w.dealer = nil
	}

	dealer, err := w.ctx.NewDealer(w.brokerAddr)
	if err != nil {
		return fmt.Errorf("mdp: worker connect: %w", err)
	}
	w.dealer = dealer

	if err := dealer.SendMessage(WorkerReadyFrames(w.service)); err != nil {
		return fmt.Errorf("mdp: worker send READY: %w", err)
	}

	w.currentLiveness = w.liveness
	w.nextHeartbeatAt = time.Now().Add(w.heartbeatInterval)
	w.log.Info().Str("broker", w.brokerAddr).Str("service", w.service).Msg("worker connected")
	return nil
}

// maxReconnectBackoff caps the exponential backoff applied across
// consecutive reconnect attempts, so a prolonged broker outage doesn't
// leave a worker waiting minutes between retries.
const maxReconnectBackoff = 30 * time.Second

// reconnectBackoff computes the delay before the (tries+1)th consecutive
// reconnect attempt (§12): reconnectDelay doubled once per prior failure,
// capped at maxReconnectBackoff, plus up to 20% jitter so a fleet of
// workers losing the same broker doesn't retry in lockstep.
func (w *Worker) reconnectBackoff(tries int) time.Duration {
	delay := w.reconnectDelay
	for i := 0; i < tries && delay < maxReconnectBackoff; i++ {
		delay *= 2
	}
	if delay > maxReconnectBackoff {
		delay = maxReconnectBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}

// Stop connects a push socket to the control URI and sends TERMINATE.
func (w *Worker) Stop() error {
	push, err := w.ctx.NewPushConnect(w.controlURI)
	if err != nil {
		return err
	}
	defer push.Close()
	return push.SendMessage(Frames{[]byte(Terminate)})
}

// Done returns a channel closed once Serve has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Serve runs Step in a loop until TERMINATE is observed.
func (w *Worker) Serve() error {
	defer w.stopOnce.Do(func() { close(w.done) })
	for {
		terminated, err := w.Step()
		if err != nil {
			return err
		}
		if terminated {
			return nil
		}
	}
}

// Step runs one poll tick of the worker reactor (§4.5 step 2), the test
// hook exposed per the design notes' stepwise-generator requirement.
func (w *Worker) Step() (bool, error) {
	w.mu.Lock()
	dealer := w.dealer
	controlPull := w.controlPull
	w.mu.Unlock()

	poller := w.newPoller()
	poller.Add(controlKey, controlPull)
	poller.Add("dealer", dealer)

	ready, err := poller.Poll(w.pollInterval)
	if err != nil {
		return false, fmt.Errorf("mdp: worker poll: %w", err)
	}

	gotMessage := false
	for _, key := range ready {
		switch key {
		case controlKey:
			frames, err := controlPull.RecvMessageBytes()
			if err == nil && len(frames) > 0 && string(frames[0]) == Terminate {
				w.log.Info().Msg("worker received TERMINATE")
				w.mu.Lock()
				w.dealer.Close()
				w.controlPull.Close()
				w.mu.Unlock()
				return true, nil
			}
		case "dealer":
			gotMessage = true
			frames, err := dealer.RecvMessageBytes()
			if err != nil {
				w.log.Warn().Err(err).Msg("worker recv error")
				continue
			}
			w.mu.Lock()
			w.currentLiveness = w.liveness
			w.reconnectTries = 0
			w.mu.Unlock()
			if err := w.handleMessage(frames); err != nil {
				w.log.Warn().Err(err).Msg("dropping malformed broker message")
			}
		}
	}

	if !gotMessage {
		w.mu.Lock()
		w.currentLiveness--
		dead := w.currentLiveness <= 0
		tries := w.reconnectTries
		w.mu.Unlock()
		if dead {
			delay := w.reconnectBackoff(tries)
			w.log.Warn().Int("attempt", tries+1).Dur("delay", delay).Msg("broker liveness exhausted, reconnecting")
			time.Sleep(delay)
			w.mu.Lock()
			w.reconnectTries++
			w.stats.Reconnections++
			w.mu.Unlock()
			if err := w.connect(); err != nil {
				return false, err
			}
		}
	}

	w.maybeHeartbeat()
	return false, nil
}

// handleMessage parses [EMPTY, "MDPW01", command, ...] and dispatches.
func (w *Worker) handleMessage(msg Frames) error {
	if len(msg) < 2 {
		return fmt.Errorf("malformed message: %d frames", len(msg))
	}
	if !IsEmpty(msg[0]) {
		return fmt.Errorf("missing empty delimiter frame")
	}
	if string(msg[1]) != WorkerMagic {
		return fmt.Errorf("unexpected magic %q", msg[1])
	}
	if len(msg) < 3 {
		return fmt.Errorf("missing command")
	}
	command := string(msg[2])
	args := msg[3:]

	switch command {
	case Heartbeat:
		w.mu.Lock()
		w.stats.HeartbeatsReceived++
		w.mu.Unlock()
		return nil
	case Disconnect:
		return w.connect()
	case Request:
		if len(args) < 2 {
			return fmt.Errorf("REQUEST missing client address or empty separator")
		}
		clientAddr := args[0]
		if !IsEmpty(args[1]) {
			return fmt.Errorf("REQUEST missing empty separator")
		}
		return w.handleRequest(clientAddr, args[2:])
	default:
		return fmt.Errorf("unknown broker command %q", command)
	}
}

// handleRequest invokes the embedder's handler and replies, per §4.5.
func (w *Worker) handleRequest(clientAddr []byte, payload Frames) error {
	reply, err := w.handler.Handle(payload)
	if err != nil {
		w.mu.Lock()
		w.stats.RequestsFailed++
		w.mu.Unlock()
		w.log.Error().Err(err).Msg("handler failed")

		switch w.failureMode {
		case EmptyReplyOnHandlerFailure:
			return w.sendReply(clientAddr, Frames{})
		default:
			return nil // drop silently; client will time out (§7, §9)
		}
	}

	w.mu.Lock()
	w.stats.RequestsHandled++
	w.stats.LastRequest = time.Now()
	w.mu.Unlock()
	return w.sendReply(clientAddr, reply)
}

func (w *Worker) sendReply(clientAddr []byte, payload Frames) error {
	w.mu.Lock()
	dealer := w.dealer
	w.mu.Unlock()
	if err := dealer.SendMessage(WorkerReplyFrames(clientAddr, payload)); err != nil {
		return fmt.Errorf("mdp: send reply: %w", err)
	}
	w.resetHeartbeatClock()
	return nil
}

// maybeHeartbeat sends a heartbeat if due and reschedules, §4.5 step 3.
// A small jitter avoids every worker in a fleet beating in lockstep.
func (w *Worker) maybeHeartbeat() {
	w.mu.Lock()
	due := time.Now().After(w.nextHeartbeatAt)
	dealer := w.dealer
	w.mu.Unlock()
	if !due {
		return
	}

	if err := dealer.SendMessage(WorkerHeartbeatFrames()); err != nil {
		w.log.Warn().Err(err).Msg("failed to send heartbeat")
		return
	}
	w.mu.Lock()
	w.stats.HeartbeatsSent++
	w.mu.Unlock()
	w.resetHeartbeatClock()
}

func (w *Worker) resetHeartbeatClock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	jitter := time.Duration(rand.Int63n(int64(w.heartbeatInterval) / 10))
	w.nextHeartbeatAt = time.Now().Add(w.heartbeatInterval + jitter)
}

// Stats returns a snapshot of worker statistics.
func (w *Worker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Service returns the service name this worker serves.
func (w *Worker) Service() string { return w.service }
