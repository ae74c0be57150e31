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
	"sync"
	"time"
)

// heartbeatManager tracks per-peer liveness. It is pure bookkeeping: it
// decides nothing about what to send or which records to drop, only
// which addresses need a beat or have gone silent too long. Policy is
// the broker reactor's job (C4).
type heartbeatManager struct {
	mu       sync.Mutex
	interval time.Duration
	liveness int

	lastHeard map[string]time.Time
	lastSent  map[string]time.Time
}

func newHeartbeatManager(interval time.Duration, liveness int) *heartbeatManager {
	return &heartbeatManager{
		interval:  interval,
		liveness:  liveness,
		lastHeard: make(map[string]time.Time),
		lastSent:  make(map[string]time.Time),
	}
}

// hearFrom marks addr as having produced traffic just now.
func (h *heartbeatManager) hearFrom(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastHeard[addr] = time.Now()
}

// sendTo marks addr as having received a frame just now, suppressing a
// redundant heartbeat until the interval elapses again.
func (h *heartbeatManager) sendTo(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSent[addr] = time.Now()
}

// needBeats returns every address whose last send is at least one
// interval old (or has never been sent to, but is known via hearFrom).
func (h *heartbeatManager) needBeats() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	out := make([]string, 0, len(h.lastHeard))
	for addr := range h.lastHeard {
		last, ok := h.lastSent[addr]
		if !ok || now.Sub(last) >= h.interval {
			out = append(out, addr)
		}
	}
	return out
}

// reap returns every address that has gone silent for interval*liveness
// and atomically forgets it as it is yielded.
func (h *heartbeatManager) reap() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	deadline := h.interval * time.Duration(h.liveness)
	now := time.Now()
	var dead []string
	for addr, last := range h.lastHeard {
		if now.Sub(last) >= deadline {
			dead = append(dead, addr)
			delete(h.lastHeard, addr)
			delete(h.lastSent, addr)
		}
	}
	return dead
}

// discardPeer forgets addr entirely, e.g. on DISCONNECT.
func (h *heartbeatManager) discardPeer(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.lastHeard, addr)
	delete(h.lastSent, addr)
}
