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

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hermes/internal/mdp"
	"hermes/internal/mdpclient"
)

var (
	clientBrokerAddr string
	clientService    string
	clientTimeout    time.Duration
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a Hermes broker from the command line",
}

var clientCallCmd = &cobra.Command{
	Use:   "call [payload]",
	Short: "Send one request and print the reply",
	Long:  `Opens a DEALER connection to a broker, sends a single request for --service, and prints the reply payload or reports a timeout.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runClientCall,
}

func init() {
	clientCallCmd.Flags().StringVar(&clientBrokerAddr, "broker", "tcp://127.0.0.1:5555", "broker address to connect to")
	clientCallCmd.Flags().StringVar(&clientService, "service", "echo", "service name to request")
	clientCallCmd.Flags().DurationVar(&clientTimeout, "timeout", 2500*time.Millisecond, "how long to wait for a reply")
	clientCmd.AddCommand(clientCallCmd)
}

func runClientCall(cmd *cobra.Command, args []string) error {
	zctx, err := mdp.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create transport context: %w", err)
	}
	defer zctx.Term()

	c, err := mdpclient.NewClient(zctx, clientBrokerAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer c.Close()
	c.SetTimeout(clientTimeout)

	reply, err := c.Request(clientService, mdp.Frames{[]byte(args[0])})
	if err != nil {
		return err
	}

	for _, frame := range reply {
		fmt.Println(string(frame))
	}
	return nil
}
