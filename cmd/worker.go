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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hermes/internal/logger"
	"hermes/internal/mdp"
	"hermes/internal/mdpconfig"
)

var workerConfigPath string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Hermes worker against a broker",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an example echo-style worker",
	Long: `Connects to a broker and serves the configured service name with a
handler that echoes the request payload back unchanged, useful for smoke
testing a broker deployment without writing a real handler.`,
	RunE: runWorker,
}

func init() {
	workerRunCmd.Flags().StringVarP(&workerConfigPath, "config", "c", "worker.yml", "path to worker configuration file")
	workerCmd.AddCommand(workerRunCmd)
}

// echoHandler is the stock handler for `worker run`: it hands the request
// payload straight back, frame for frame.
type echoHandler struct{}

func (echoHandler) Handle(payload mdp.Frames) (mdp.Frames, error) {
	return payload, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadWorkerConfigOrDefault(workerConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load worker configuration: %w", err)
	}

	workerLog := logger.New()
	workerLog.Info().
		Str("broker_addr", cfg.Worker.BrokerAddr).
		Str("service", cfg.Worker.Service).
		Msg("starting hermes worker")

	zctx, err := mdp.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create transport context: %w", err)
	}
	defer zctx.Term()

	worker := mdp.NewWorker(zctx, cfg.Worker.BrokerAddr, cfg.Worker.Service, echoHandler{},
		mdp.WithWorkerPollInterval(time.Duration(cfg.Worker.PollInterval)),
		mdp.WithWorkerHeartbeat(time.Duration(cfg.Worker.HeartbeatInterval), cfg.Worker.HeartbeatLiveness),
		mdp.WithReconnectDelay(time.Duration(cfg.Worker.ReconnectDelay)),
	)

	if err := worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker reactor error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		workerLog.Info().Str("signal", sig.String()).Msg("shutting down worker")
		if err := worker.Stop(); err != nil {
			return fmt.Errorf("failed to stop worker cleanly: %w", err)
		}
		<-worker.Done()
		return nil
	}
}

func loadWorkerConfigOrDefault(path string) (*mdpconfig.WorkerConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := mdpconfig.DefaultWorkerConfig()
		cfg.Worker.Service = "echo"
		return cfg, nil
	}
	return mdpconfig.LoadWorkerConfig(path)
}
