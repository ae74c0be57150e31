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
	"errors"
	"sync"
	"time"
)

// fakeSocket is an in-memory stand-in for a ZeroMQ socket, letting broker
// and worker reactor logic be exercised without a real transport.
type fakeSocket struct {
	mu     sync.Mutex
	inbox  [][]byte // flattened queue of pending messages, one Frames per Send
	queue  []Frames
	sent   []Frames
	closed bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{}
}

func (f *fakeSocket) SendMessage(frames Frames) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(Frames, len(frames))
	copy(cp, frames)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSocket) RecvMessageBytes() (Frames, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, errors.New("fakeSocket: no message queued")
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// deliver enqueues a message as if received from the peer.
func (f *fakeSocket) deliver(msg Frames) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, msg)
}

func (f *fakeSocket) sentMessages() []Frames {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frames, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSocket) hasPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) > 0
}

// fakePoller reports a key ready only if its socket has a queued message.
type fakePoller struct {
	keys  []string
	socks []*fakeSocket
}

func (p *fakePoller) Add(key string, sock Socket) {
	fs, ok := sock.(*fakeSocket)
	if !ok {
		panic("fakePoller.Add requires a *fakeSocket")
	}
	p.keys = append(p.keys, key)
	p.socks = append(p.socks, fs)
}

func (p *fakePoller) Poll(_ time.Duration) ([]string, error) {
	var ready []string
	for i, s := range p.socks {
		if s.hasPending() {
			ready = append(ready, p.keys[i])
		}
	}
	return ready, nil
}
