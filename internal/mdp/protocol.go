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

// Package mdp implements a Majordomo-style service broker and worker
// runtime over ZeroMQ ROUTER/DEALER sockets.
package mdp

import "time"

// Protocol tags and command codes. Frozen on the wire: any implementation
// using these exact byte strings is wire-compatible with this one.
const (
	ClientMagic = "MDPC01"
	WorkerMagic = "MDPW01"

	Ready      = "\x01"
	Request    = "\x02"
	Reply      = "\x03"
	Heartbeat  = "\x04"
	Disconnect = "\x05"
)

// Default configuration values, §6.
const (
	DefaultHeartbeatInterval = 1 * time.Second
	DefaultHeartbeatLiveness = 3
	DefaultPollInterval      = 1 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultReconnectDelay    = 2500 * time.Millisecond
)

var empty = []byte{}

// Frames is an ordered sequence of opaque byte frames, i.e. one ZeroMQ
// multipart message body (destination/sender identity frames excluded).
type Frames = [][]byte

// ClientRequestFrames builds the body a client sends for a request:
// [EMPTY, "MDPC01", service_name, ...payload].
func ClientRequestFrames(service string, payload Frames) Frames {
	f := Frames{empty, []byte(ClientMagic), []byte(service)}
	return append(f, payload...)
}

// ClientReplyFrames builds the body the broker sends back to a client:
// [EMPTY, "MDPC01", service_name, ...payload].
func ClientReplyFrames(service string, payload Frames) Frames {
	return ClientRequestFrames(service, payload)
}

// WorkerReadyFrames builds [EMPTY, "MDPW01", READY, service_name].
func WorkerReadyFrames(service string) Frames {
	return Frames{empty, []byte(WorkerMagic), []byte(Ready), []byte(service)}
}

// WorkerReplyFrames builds [EMPTY, "MDPW01", REPLY, client_addr, EMPTY, ...reply].
func WorkerReplyFrames(clientAddr []byte, payload Frames) Frames {
	f := Frames{empty, []byte(WorkerMagic), []byte(Reply), clientAddr, empty}
	return append(f, payload...)
}

// WorkerHeartbeatFrames builds [EMPTY, "MDPW01", HEARTBEAT].
func WorkerHeartbeatFrames() Frames {
	return Frames{empty, []byte(WorkerMagic), []byte(Heartbeat)}
}

// WorkerDisconnectFrames builds [EMPTY, "MDPW01", DISCONNECT].
func WorkerDisconnectFrames() Frames {
	return Frames{empty, []byte(WorkerMagic), []byte(Disconnect)}
}

// BrokerRequestFrames builds the body the broker sends to dispatch a
// request to a worker: [EMPTY, "MDPW01", REQUEST, client_addr, EMPTY, ...payload].
func BrokerRequestFrames(clientAddr []byte, payload Frames) Frames {
	f := Frames{empty, []byte(WorkerMagic), []byte(Request), clientAddr, empty}
	return append(f, payload...)
}

// BrokerHeartbeatFrames builds [EMPTY, "MDPW01", HEARTBEAT], identical on
// the wire regardless of which side sends it.
func BrokerHeartbeatFrames() Frames {
	return WorkerHeartbeatFrames()
}

// BrokerDisconnectFrames builds [EMPTY, "MDPW01", DISCONNECT].
func BrokerDisconnectFrames() Frames {
	return WorkerDisconnectFrames()
}

// IsEmpty reports whether a frame is the mandatory zero-length separator.
func IsEmpty(f []byte) bool {
	return len(f) == 0
}
