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

import "fmt"

// Terminate is the only defined control-channel command (C6): it asks a
// polling reactor to close its sockets and return from its loop.
const Terminate = "TERMINATE"

const controlKey = "control"

// controlURI derives the in-process control endpoint for a reactor
// identity, e.g. "inproc://mdp-broker-7".
func controlURI(kind, id string) string {
	return fmt.Sprintf("inproc://mdp-%s-%s", kind, id)
}
