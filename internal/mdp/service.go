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

import "time"

// workerRecord is the broker's per-registered-worker state (C2). It is a
// thin, non-owning handle: it never holds a pointer back to the broker or
// to its service, only the address keys needed to look either up. The
// broker looks itself up through an explicit receiver on every operation,
// which sidesteps the worker/service/broker reference cycle present in
// the original source (§9).
type workerRecord struct {
	address string
	service string // bound service name, "" if unbound
}

// pendingRequest is the broker's Request record (§3): the tuple of
// expiry, originating client address, and opaque payload frames.
type pendingRequest struct {
	deadline   time.Time
	clientAddr string
	payload    Frames
}

// service is the broker's Service record (§3): a named pool of workers
// with a FIFO of pending requests and a LIFO of ready worker addresses.
// Created lazily on first reference and never destroyed for the life of
// the broker.
type service struct {
	name     string
	requests []*pendingRequest        // FIFO, oldest first
	ready    []string                 // LIFO, freshest worker last
	workers  map[string]*workerRecord // known_workers, keyed by address
}

func newService(name string) *service {
	return &service{
		name:    name,
		workers: make(map[string]*workerRecord),
	}
}

// queueRequest appends a request to the FIFO with an absolute deadline.
func (s *service) queueRequest(clientAddr string, payload Frames, timeout time.Duration) {
	s.requests = append(s.requests, &pendingRequest{
		deadline:   time.Now().Add(timeout),
		clientAddr: clientAddr,
		payload:    payload,
	})
}

// markReady pushes a worker address onto the ready LIFO. The caller is
// responsible for having already registered the worker in s.workers.
func (s *service) markReady(addr string) {
	s.ready = append(s.ready, addr)
}

// popReadyWorker pops the most recently marked-ready worker address,
// skipping (and discarding) any address no longer present in
// known_workers — it may have been reaped between becoming ready and
// being popped. Returns "" if no live ready worker remains.
func (s *service) popReadyWorker() string {
	for len(s.ready) > 0 {
		addr := s.ready[len(s.ready)-1]
		s.ready = s.ready[:len(s.ready)-1]
		if _, known := s.workers[addr]; known {
			return addr
		}
	}
	return ""
}

// removeWorker deletes a worker from known_workers and scrubs it from the
// ready list so a subsequent popReadyWorker never observes it again.
func (s *service) removeWorker(addr string) {
	delete(s.workers, addr)
	filtered := s.ready[:0]
	for _, a := range s.ready {
		if a != addr {
			filtered = append(filtered, a)
		}
	}
	s.ready = filtered
}
