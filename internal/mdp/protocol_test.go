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
	"bytes"
	"testing"
)

func TestWorkerReadyFrames(t *testing.T) {
	f := WorkerReadyFrames("echo")
	want := Frames{empty, []byte(WorkerMagic), []byte(Ready), []byte("echo")}
	assertFramesEqual(t, f, want)
}

func TestWorkerReplyFrames(t *testing.T) {
	f := WorkerReplyFrames([]byte("client-1"), Frames{[]byte("hi")})
	want := Frames{empty, []byte(WorkerMagic), []byte(Reply), []byte("client-1"), empty, []byte("hi")}
	assertFramesEqual(t, f, want)
}

func TestBrokerRequestFrames(t *testing.T) {
	f := BrokerRequestFrames([]byte("client-1"), Frames{[]byte("payload")})
	want := Frames{empty, []byte(WorkerMagic), []byte(Request), []byte("client-1"), empty, []byte("payload")}
	assertFramesEqual(t, f, want)
}

func TestIsEmpty(t *testing.T) {
	if !IsEmpty([]byte{}) {
		t.Error("expected zero-length frame to be empty")
	}
	if !IsEmpty(nil) {
		t.Error("expected nil frame to be empty")
	}
	if IsEmpty([]byte("x")) {
		t.Error("expected non-empty frame to report false")
	}
}

func assertFramesEqual(t *testing.T, got, want Frames) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame count mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d: got %q, want %q", i, got[i], want[i])
		}
	}
}
