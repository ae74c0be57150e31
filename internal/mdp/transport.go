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
	"time"

	"github.com/pebbe/zmq4"
)

// Socket is the minimum multipart-messaging contract §6 requires of the
// transport: send and receive a whole frame sequence at a time. Router
// and dealer peer-address handling is the concrete implementation's
// concern, not this interface's.
type Socket interface {
	SendMessage(frames Frames) error
	RecvMessageBytes() (Frames, error)
	Close() error
}

// Poller waits for any of a registered set of sockets to become readable,
// the abstract "poll both sockets with the poll interval as the upper
// bound" operation central to C4 and C5's reactor loops.
type Poller interface {
	Add(key string, sock Socket)
	Poll(timeout time.Duration) ([]string, error)
}

// Context owns the process-wide transport context. The original source
// threads a single global context through every socket (§9's "global
// transport context" note); here it is an explicit value passed to every
// constructor, so a caller that wants a shared singleton can still build
// one, but nothing requires it.
type Context struct {
	zctx *zmq4.Context
}

// NewContext allocates a fresh ZeroMQ context.
func NewContext() (*Context, error) {
	zctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("mdp: new zmq context: %w", err)
	}
	return &Context{zctx: zctx}, nil
}

// Term releases the context. Must only be called once no reactor bound
// to it is still running.
func (c *Context) Term() error {
	return c.zctx.Term()
}

func (c *Context) newSocket(t zmq4.Type) (*zmq4.Socket, error) {
	s, err := c.zctx.NewSocket(t)
	if err != nil {
		return nil, err
	}
	if err := s.SetLinger(0 * time.Second); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewRouter binds a ROUTER socket at addr — the broker's public endpoint.
func (c *Context) NewRouter(addr string) (Socket, error) {
	s, err := c.newSocket(zmq4.ROUTER)
	if err != nil {
		return nil, err
	}
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: bind router %s: %w", addr, err)
	}
	return &zmqSocket{sock: s}, nil
}

// NewDealer connects a DEALER socket to addr — a worker's broker link.
func (c *Context) NewDealer(addr string) (Socket, error) {
	s, err := c.newSocket(zmq4.DEALER)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: connect dealer %s: %w", addr, err)
	}
	return &zmqSocket{sock: s}, nil
}

// NewDealerWithIdentity connects a DEALER socket to addr under an explicit
// ZMQ identity, so repeated runs of the same client binary are
// distinguishable from one another in the broker's logs and audit trail
// (§11.1).
func (c *Context) NewDealerWithIdentity(addr, identity string) (Socket, error) {
	s, err := c.newSocket(zmq4.DEALER)
	if err != nil {
		return nil, err
	}
	if err := s.SetIdentity(identity); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: set dealer identity: %w", err)
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: connect dealer %s: %w", addr, err)
	}
	return &zmqSocket{sock: s}, nil
}

// NewPullBind binds a PULL socket at an in-process control URI.
func (c *Context) NewPullBind(addr string) (Socket, error) {
	s, err := c.newSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := s.Bind(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: bind pull %s: %w", addr, err)
	}
	return &zmqSocket{sock: s}, nil
}

// NewPushConnect connects a PUSH socket to an in-process control URI.
func (c *Context) NewPushConnect(addr string) (Socket, error) {
	s, err := c.newSocket(zmq4.PUSH)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("mdp: connect push %s: %w", addr, err)
	}
	return &zmqSocket{sock: s}, nil
}

// NewPoller builds a poller over this context's socket family.
func (c *Context) NewPoller() Poller {
	return &zmqPoller{poller: zmq4.NewPoller()}
}

type zmqSocket struct {
	sock *zmq4.Socket
}

func (z *zmqSocket) SendMessage(frames Frames) error {
	parts := make([]interface{}, len(frames))
	for i, f := range frames {
		parts[i] = f
	}
	_, err := z.sock.SendMessage(parts...)
	return err
}

func (z *zmqSocket) RecvMessageBytes() (Frames, error) {
	return z.sock.RecvMessageBytes(0)
}

func (z *zmqSocket) Close() error {
	return z.sock.Close()
}

// zmqPoller adapts zmq4.Poller, which only multiplexes *zmq4.Socket
// values, to the key-addressed Poller contract the reactors use.
type zmqPoller struct {
	poller *zmq4.Poller
	keys   []string
	socks  []*zmq4.Socket
}

func (p *zmqPoller) Add(key string, sock Socket) {
	zs, ok := sock.(*zmqSocket)
	if !ok {
		panic("mdp: zmqPoller.Add requires a zmq-backed Socket")
	}
	p.keys = append(p.keys, key)
	p.socks = append(p.socks, zs.sock)
	p.poller.Add(zs.sock, zmq4.POLLIN)
}

func (p *zmqPoller) Poll(timeout time.Duration) ([]string, error) {
	polled, err := p.poller.Poll(timeout)
	if err != nil {
		return nil, err
	}
	ready := make([]string, 0, len(polled))
	for _, item := range polled {
		for i, s := range p.socks {
			if item.Socket == s {
				ready = append(ready, p.keys[i])
				break
			}
		}
	}
	return ready, nil
}
