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
	"github.com/spf13/cobra"

	"hermes/internal/mdptui"
)

var monitorAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of a broker's admin API",
	Long:  `Polls a broker's admin HTTP API on an interval and renders its service/worker tables in a terminal dashboard.`,
	RunE:  runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "http://127.0.0.1:8766", "admin API base address")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	return mdptui.Run(monitorAddr)
}
