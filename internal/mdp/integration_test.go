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

	"github.com/stretchr/testify/require"
)

// These drive Broker.Step and Worker.Step directly over fakeSocket/
// fakePoller doubles, shuttling frames between them by hand the way a
// real ROUTER/DEALER pair would, since these tests would require actual
// ZMQ sockets for full wire-level integration testing.

func newIntegrationBroker() (*Broker, *fakeSocket) {
	b := NewBroker(nil, "tcp://127.0.0.1:0", WithRequestTimeout(time.Second))
	router := newFakeSocket()
	b.router = router
	b.controlPull = newFakeSocket()
	b.newPoller = func() Poller { return &fakePoller{} }
	return b, router
}

func newIntegrationWorker(h Handler) (*Worker, *fakeSocket) {
	w := NewWorker(nil, "tcp://127.0.0.1:0", "echo", h)
	dealer := newFakeSocket()
	w.dealer = dealer
	w.controlPull = newFakeSocket()
	w.currentLiveness = w.liveness
	w.nextHeartbeatAt = time.Now().Add(time.Hour)
	w.newPoller = func() Poller { return &fakePoller{} }
	return w, dealer
}

func TestBrokerWorkerRequestReplyRoundTrip(t *testing.T) {
	const workerID = "worker-1"
	const clientID = "client-1"

	worker, workerDealer := newIntegrationWorker(HandlerFunc(func(payload Frames) (Frames, error) {
		return payload, nil
	}))
	broker, brokerRouter := newIntegrationBroker()

	require.NoError(t, workerDealer.SendMessage(WorkerReadyFrames("echo")))
	ready := workerDealer.sentMessages()[0]
	brokerRouter.deliver(append(Frames{[]byte(workerID)}, ready...))

	terminated, err := broker.Step()
	require.NoError(t, err)
	require.False(t, terminated)
	require.Contains(t, broker.services, "echo")
	require.Contains(t, broker.workers, workerID)

	brokerRouter.deliver(append(Frames{[]byte(clientID)}, ClientRequestFrames("echo", Frames{[]byte("ping")})...))

	terminated, err = broker.Step()
	require.NoError(t, err)
	require.False(t, terminated)

	sentToRouter := brokerRouter.sentMessages()
	require.NotEmpty(t, sentToRouter)
	dispatch := sentToRouter[len(sentToRouter)-1]
	require.Equal(t, workerID, string(dispatch[0]))
	workerDealer.deliver(dispatch[1:])

	terminated, err = worker.Step()
	require.NoError(t, err)
	require.False(t, terminated)

	sentByWorker := workerDealer.sentMessages()
	reply := sentByWorker[len(sentByWorker)-1]
	require.Equal(t, WorkerMagic, string(reply[1]))
	require.Equal(t, Reply, string(reply[2]))

	brokerRouter.deliver(append(Frames{[]byte(workerID)}, reply...))

	terminated, err = broker.Step()
	require.NoError(t, err)
	require.False(t, terminated)

	finalSent := brokerRouter.sentMessages()
	clientReply := finalSent[len(finalSent)-1]
	require.Equal(t, clientID, string(clientReply[0]))
	require.Equal(t, ClientMagic, string(clientReply[2]))
	require.Equal(t, "echo", string(clientReply[3]))
	require.Equal(t, "ping", string(clientReply[4]))
}

func TestBrokerStepTerminatesOnControlMessage(t *testing.T) {
	broker, _ := newIntegrationBroker()
	broker.controlPull.(*fakeSocket).deliver(Frames{[]byte(Terminate)})

	terminated, err := broker.Step()
	require.NoError(t, err)
	require.True(t, terminated)
}

func TestWorkerStepTerminatesOnControlMessage(t *testing.T) {
	worker, _ := newIntegrationWorker(HandlerFunc(func(p Frames) (Frames, error) { return p, nil }))
	worker.controlPull.(*fakeSocket).deliver(Frames{[]byte(Terminate)})

	terminated, err := worker.Step()
	require.NoError(t, err)
	require.True(t, terminated)
}
