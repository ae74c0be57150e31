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

func TestServiceQueueFIFO(t *testing.T) {
	s := newService("echo")
	s.queueRequest("c1", Frames{[]byte("one")}, time.Second)
	s.queueRequest("c2", Frames{[]byte("two")}, time.Second)

	if len(s.requests) != 2 {
		t.Fatalf("expected 2 queued requests, got %d", len(s.requests))
	}
	if s.requests[0].clientAddr != "c1" {
		t.Errorf("expected oldest request first, got %s", s.requests[0].clientAddr)
	}
}

func TestServiceReadyLIFO(t *testing.T) {
	s := newService("echo")
	s.workers["w1"] = &workerRecord{address: "w1", service: "echo"}
	s.workers["w2"] = &workerRecord{address: "w2", service: "echo"}
	s.markReady("w1")
	s.markReady("w2")

	if got := s.popReadyWorker(); got != "w2" {
		t.Fatalf("expected most recently ready worker w2 first, got %s", got)
	}
	if got := s.popReadyWorker(); got != "w1" {
		t.Fatalf("expected w1 next, got %s", got)
	}
	if got := s.popReadyWorker(); got != "" {
		t.Fatalf("expected empty string when no worker ready, got %s", got)
	}
}

func TestServicePopSkipsForgottenWorkers(t *testing.T) {
	s := newService("echo")
	s.workers["w1"] = &workerRecord{address: "w1", service: "echo"}
	s.markReady("w2") // never registered, as if reaped between ready and pop
	s.markReady("w1")

	if got := s.popReadyWorker(); got != "w1" {
		t.Fatalf("expected w1, got %q", got)
	}
	if got := s.popReadyWorker(); got != "" {
		t.Fatalf("expected forgotten w2 to be silently discarded, got %q", got)
	}
}

func TestServiceRemoveWorker(t *testing.T) {
	s := newService("echo")
	s.workers["w1"] = &workerRecord{address: "w1", service: "echo"}
	s.workers["w2"] = &workerRecord{address: "w2", service: "echo"}
	s.markReady("w1")
	s.markReady("w2")

	s.removeWorker("w2")

	if _, ok := s.workers["w2"]; ok {
		t.Error("expected w2 removed from known workers")
	}
	if got := s.popReadyWorker(); got != "w1" {
		t.Fatalf("expected w1 to remain ready after w2 removed, got %q", got)
	}
	if got := s.popReadyWorker(); got != "" {
		t.Fatalf("expected nothing left ready, got %q", got)
	}
}
