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

// Package mdpclient is a thin synchronous client for talking to a broker:
// it emulates a REQ socket over a DEALER so a caller can still set a
// per-call timeout without blocking the whole process.
package mdpclient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hermes/internal/logger"
	"hermes/internal/mdp"
)

const pollKey = "dealer"

// Client is a single MDP client connection to one broker.
type Client struct {
	ctx     *mdp.Context
	broker  string
	id      string
	timeout time.Duration

	dealer mdp.Socket
	log    zerolog.Logger
}

// NewClient connects a DEALER socket to broker and returns a ready client.
// The DEALER is assigned a uuid-derived identity (§11.1) so repeated runs
// of the same client binary are distinguishable from one another in the
// broker's logs and audit trail.
func NewClient(ctx *mdp.Context, broker string) (*Client, error) {
	c := &Client{
		ctx:     ctx,
		broker:  broker,
		id:      uuid.NewString(),
		timeout: 2500 * time.Millisecond,
		log:     logger.New(),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	if c.dealer != nil {
		c.dealer.Close()
	}
	dealer, err := c.ctx.NewDealerWithIdentity(c.broker, c.id)
	if err != nil {
		return fmt.Errorf("mdpclient: connect to broker %s: %w", c.broker, err)
	}
	c.dealer = dealer
	c.log.Debug().Str("broker", c.broker).Str("client_id", c.id).Msg("connected to broker")
	return nil
}

// SetTimeout overrides the default 2.5s reply wait.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close releases the client's socket.
func (c *Client) Close() error {
	if c.dealer == nil {
		return nil
	}
	return c.dealer.Close()
}

// Send emits a request for service without waiting for a reply.
func (c *Client) Send(service string, payload mdp.Frames) error {
	return c.dealer.SendMessage(mdp.ClientRequestFrames(service, payload))
}

// Recv waits up to the configured timeout for a reply, reconnecting once
// on timeout (the DEALER link may have gone stale) before giving up. It
// does not retry the request itself — that is the caller's job, since
// only the caller knows whether retrying is safe.
func (c *Client) Recv() (mdp.Frames, error) {
	poller := c.ctx.NewPoller()
	poller.Add(pollKey, c.dealer)

	ready, err := poller.Poll(c.timeout)
	if err != nil {
		return nil, fmt.Errorf("mdpclient: poll: %w", err)
	}
	if len(ready) == 0 {
		c.log.Warn().Dur("timeout", c.timeout).Msg("no reply from broker within timeout")
		if err := c.connect(); err != nil {
			return nil, fmt.Errorf("mdpclient: reconnect after timeout: %w", err)
		}
		return nil, fmt.Errorf("mdpclient: timed out waiting for reply")
	}

	msg, err := c.dealer.RecvMessageBytes()
	if err != nil {
		return nil, fmt.Errorf("mdpclient: recv: %w", err)
	}
	if len(msg) < 3 || !mdp.IsEmpty(msg[0]) || string(msg[1]) != mdp.ClientMagic {
		return nil, fmt.Errorf("mdpclient: malformed reply from broker")
	}
	return msg[3:], nil
}

// Request sends payload to service and blocks for the matching reply.
func (c *Client) Request(service string, payload mdp.Frames) (mdp.Frames, error) {
	if err := c.Send(service, payload); err != nil {
		return nil, err
	}
	return c.Recv()
}
