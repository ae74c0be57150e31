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
	"testing"
	"time"
)

func newTestBroker() (*Broker, *fakeSocket) {
	b := NewBroker(nil, "tcp://127.0.0.1:5555", WithRequestTimeout(50*time.Millisecond))
	router := newFakeSocket()
	b.router = router
	return b, router
}

func TestNewBroker(t *testing.T) {
	b, _ := newTestBroker()
	if b.address != "tcp://127.0.0.1:5555" {
		t.Errorf("expected address to be set, got %s", b.address)
	}
	if b.services == nil || b.workers == nil {
		t.Error("expected non-nil services and workers maps")
	}
	if b.heartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("expected default heartbeat interval, got %v", b.heartbeatInterval)
	}
}

func TestBrokerRegisterWorker(t *testing.T) {
	b, _ := newTestBroker()

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}

	if len(b.Services()) != 1 {
		t.Fatalf("expected 1 service, got %d", len(b.Services()))
	}
	workers := b.Workers()
	if workers["w1"] != "echo" {
		t.Fatalf("expected w1 bound to echo, got %q", workers["w1"])
	}
}

func TestBrokerRegisterWorkerRebindsOnServiceChange(t *testing.T) {
	b, _ := newTestBroker()

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}
	if err := b.registerWorker("w1", "uppercase"); err != nil {
		t.Fatalf("re-registerWorker: %v", err)
	}

	workers := b.Workers()
	if workers["w1"] != "uppercase" {
		t.Fatalf("expected w1 rebound to uppercase, got %q", workers["w1"])
	}
	services := b.Services()
	if services["echo"] != 0 {
		t.Fatalf("expected echo to have lost its only worker, got %d", services["echo"])
	}
}

func TestBrokerRegisterWorkerTearsDownSameServiceRebind(t *testing.T) {
	b, router := newTestBroker()

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}
	// Simulate the worker being mid-dispatch: pop it off the ready stack
	// as dispatch would, then have it re-send READY for the same service.
	svc := b.services["echo"]
	if addr := svc.popReadyWorker(); addr != "w1" {
		t.Fatalf("expected w1 popped ready, got %q", addr)
	}

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("re-registerWorker: %v", err)
	}

	sent := router.sentMessages()
	if len(sent) == 0 {
		t.Fatalf("expected a DISCONNECT frame sent to w1 on re-registration")
	}
	last := sent[len(sent)-1]
	if string(last[0]) != "w1" || string(last[3]) != Disconnect {
		t.Fatalf("expected DISCONNECT to w1, got %v", last)
	}

	// Re-registration must re-add w1 to the ready stack exactly once.
	if got := svc.popReadyWorker(); got != "w1" {
		t.Fatalf("expected w1 ready again after rebind, got %q", got)
	}
	if got := svc.popReadyWorker(); got != "" {
		t.Fatalf("expected only one ready entry for w1, found extra %q", got)
	}
}

func TestBrokerHandleClientDispatchesToReadyWorker(t *testing.T) {
	b, router := newTestBroker()

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}

	if err := b.handleClient("client1", Frames{[]byte("echo"), []byte("ping")}); err != nil {
		t.Fatalf("handleClient: %v", err)
	}

	sent := router.sentMessages()
	if len(sent) == 0 {
		t.Fatal("expected broker to dispatch a frame to the worker")
	}
	last := sent[len(sent)-1]
	if string(last[0]) != "w1" {
		t.Fatalf("expected dispatch addressed to w1, got %q", last[0])
	}
}

func TestBrokerHandleClientQueuesWithoutWorker(t *testing.T) {
	b, router := newTestBroker()

	if err := b.handleClient("client1", Frames{[]byte("echo"), []byte("ping")}); err != nil {
		t.Fatalf("handleClient: %v", err)
	}

	if len(router.sentMessages()) != 0 {
		t.Fatal("expected no dispatch with no ready worker")
	}
	svc := b.services["echo"]
	if svc == nil || len(svc.requests) != 1 {
		t.Fatalf("expected request queued, got %+v", svc)
	}
}

func TestBrokerHandleWorkerReply(t *testing.T) {
	b, router := newTestBroker()
	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}
	if err := b.handleClient("client1", Frames{[]byte("echo"), []byte("ping")}); err != nil {
		t.Fatalf("handleClient: %v", err)
	}

	if err := b.handleWorkerReply("w1", []byte("client1"), Frames{[]byte("pong")}); err != nil {
		t.Fatalf("handleWorkerReply: %v", err)
	}

	sent := router.sentMessages()
	last := sent[len(sent)-1]
	if string(last[0]) != "client1" {
		t.Fatalf("expected reply addressed to client1, got %q", last[0])
	}
	if b.Stats().Responses != 1 {
		t.Fatalf("expected 1 response counted, got %d", b.Stats().Responses)
	}
}

func TestBrokerDeleteWorkerRemovesFromService(t *testing.T) {
	b, router := newTestBroker()
	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}

	b.deleteWorker("w1", true)

	if _, ok := b.workers["w1"]; ok {
		t.Error("expected worker removed from broker")
	}
	if _, ok := b.services["echo"].workers["w1"]; ok {
		t.Error("expected worker removed from its service")
	}
	sent := router.sentMessages()
	if len(sent) == 0 {
		t.Fatal("expected DISCONNECT frame sent")
	}
}

func TestBrokerDispatchDropsExpiredRequests(t *testing.T) {
	b, router := newTestBroker()
	svc := newService("echo")
	b.services["echo"] = svc
	svc.queueRequest("client1", Frames{[]byte("ping")}, -1*time.Second) // already expired

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}

	if len(svc.requests) != 0 {
		t.Fatalf("expected expired request dropped on dispatch, got %d queued", len(svc.requests))
	}
	if len(router.sentMessages()) != 0 {
		t.Fatal("expected no dispatch for an expired request")
	}
}

func TestBrokerHandleFrameRejectsUnknownMagic(t *testing.T) {
	b, _ := newTestBroker()
	err := b.handleFrame(Frames{[]byte("sender"), empty, []byte("BOGUS01")})
	if err == nil {
		t.Fatal("expected error for unrecognized protocol magic")
	}
}

func TestBrokerTickHeartbeatsReapsDeadWorker(t *testing.T) {
	b, _ := newTestBroker()
	b.heartbeatInterval = time.Millisecond
	b.heartbeatLiveness = 1
	b.hb = newHeartbeatManager(b.heartbeatInterval, b.heartbeatLiveness)
	b.router = newFakeSocket()

	if err := b.registerWorker("w1", "echo"); err != nil {
		t.Fatalf("registerWorker: %v", err)
	}
	b.hb.hearFrom("w1") // normally done by handleWorker before dispatch
	time.Sleep(5 * time.Millisecond)

	b.tickHeartbeats()

	if _, ok := b.workers["w1"]; ok {
		t.Fatal("expected worker reaped after exceeding liveness")
	}
}
