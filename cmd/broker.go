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
	"golang.org/x/crypto/bcrypt"

	"hermes/internal/logger"
	"hermes/internal/mdp"
	"hermes/internal/mdpadmin"
	"hermes/internal/mdpconfig"
	"hermes/internal/mdpstore"
)

var (
	brokerConfigPath    string
	tokenPassword       string
	tokenHashedPassword string
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Start the Hermes broker daemon",
	Long: `Starts a ROUTER-socket broker that pairs client requests for a named
service against a pool of workers that have advertised it, reaping workers
that go silent past their heartbeat liveness.`,
	RunE: runBroker,
}

var brokerTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API bearer token",
	Long:  `Checks --password against a bcrypt hash and, on success, prints a signed admin API token.`,
	RunE:  runBrokerToken,
}

var brokerHashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash to store in broker.yml",
	Long:  `Provisions the operator credential an admin later authenticates with via "broker token --hash".`,
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerHashPassword,
}

func init() {
	brokerCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "broker.yml", "path to broker configuration file")

	brokerTokenCmd.Flags().StringVar(&tokenPassword, "password", "", "operator password")
	brokerTokenCmd.Flags().StringVar(&tokenHashedPassword, "hash", "", "bcrypt hash to check the password against (defaults to admin.hashed_password in the config file)")
	brokerCmd.AddCommand(brokerTokenCmd)
	brokerCmd.AddCommand(brokerHashPasswordCmd)
}

func runBrokerHashPassword(cmd *cobra.Command, args []string) error {
	hashed, err := hashPasswordForSetup(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hashed)
	return nil
}

func runBrokerToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadBrokerConfigOrDefault(brokerConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load broker configuration: %w", err)
	}
	if tokenPassword == "" {
		return fmt.Errorf("--password is required")
	}
	hash := tokenHashedPassword
	if hash == "" {
		hash = cfg.Admin.HashedPassword
	}
	if hash == "" {
		return fmt.Errorf("no bcrypt hash available: pass --hash or set admin.hashed_password in the config file")
	}

	admin := mdpadmin.NewServer(nil, cfg.Admin.JWTSecret)
	token, err := admin.IssueToken(tokenPassword, hash)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// hashPasswordForSetup produces the bcrypt hash an operator stores in
// broker.yml, checked later by `broker token --hash`.
func hashPasswordForSetup(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := loadBrokerConfigOrDefault(brokerConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load broker configuration: %w", err)
	}

	brokerLog := logger.New()
	brokerLog.Info().
		Str("bind_addr", cfg.Broker.BindAddr).
		Dur("heartbeat_interval", time.Duration(cfg.Broker.HeartbeatInterval)).
		Int("heartbeat_liveness", cfg.Broker.HeartbeatLiveness).
		Msg("starting hermes broker")

	zctx, err := mdp.NewContext()
	if err != nil {
		return fmt.Errorf("failed to create transport context: %w", err)
	}
	defer zctx.Term()

	opts := []mdp.BrokerOption{
		mdp.WithPollInterval(time.Duration(cfg.Broker.PollInterval)),
		mdp.WithRequestTimeout(time.Duration(cfg.Broker.RequestTimeout)),
		mdp.WithHeartbeat(time.Duration(cfg.Broker.HeartbeatInterval), cfg.Broker.HeartbeatLiveness),
	}

	if cfg.Audit.Enabled {
		store, err := mdpstore.Open(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer store.Close()
		opts = append(opts, mdp.WithAuditSink(store))
		brokerLog.Info().Str("db_path", cfg.Audit.DBPath).Msg("audit trail enabled")
	}

	broker := mdp.NewBroker(zctx, cfg.Broker.BindAddr, opts...)

	if err := broker.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	if cfg.Admin.Enabled {
		admin := mdpadmin.NewServer(broker, cfg.Admin.JWTSecret)
		go func() {
			if err := admin.ListenAndServe(cfg.Admin.ListenAddr); err != nil {
				brokerLog.Error().Err(err).Msg("admin API server stopped")
			}
		}()
		brokerLog.Info().Str("listen_addr", cfg.Admin.ListenAddr).Msg("admin API enabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- broker.Serve()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("broker reactor error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		brokerLog.Info().Str("signal", sig.String()).Msg("shutting down broker")
		if err := broker.Stop(); err != nil {
			return fmt.Errorf("failed to stop broker cleanly: %w", err)
		}
		<-broker.Done()
		return nil
	}
}

func loadBrokerConfigOrDefault(path string) (*mdpconfig.BrokerConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return mdpconfig.DefaultBrokerConfig(), nil
	}
	return mdpconfig.LoadBrokerConfig(path)
}
