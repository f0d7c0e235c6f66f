// SPDX-FileCopyrightText: Copyright (C) 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/noisekv/client"
	"github.com/katzenpost/noisekv/client/config"
	"github.com/katzenpost/noisekv/common"
	"github.com/katzenpost/noisekv/core/wire/commands"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile  string
	Address     string
	Fingerprint string
}

func (c *Config) load() (*config.Config, error) {
	if c.Address == "" {
		cfg, err := config.LoadFile(c.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", c.ConfigFile, err)
		}
		if c.Fingerprint != "" {
			cfg.Server.Fingerprint = c.Fingerprint
			if err = cfg.FixupAndValidate(); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	}

	cfg := &config.Config{
		Server: &config.Server{
			Address:     c.Address,
			Fingerprint: c.Fingerprint,
		},
		Logging: &config.Logging{Disable: true},
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "noisekv-client",
		Short: "Noise protocol secured key/value client",
		Example: `  # Store a value
  noisekv-client -a tcp://127.0.0.1:8888 put hello world

  # Fetch it back, authenticating the server
  noisekv-client -a tcp://127.0.0.1:8888 --fingerprint <hex> get hello

  # Use a configuration file
  noisekv-client -f client.toml get hello`,
	}

	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "f", "client.toml",
		"path to the client configuration file (TOML format)")
	cmd.PersistentFlags().StringVarP(&cfg.Address, "address", "a", "",
		"server address URL, overrides the configuration file")
	cmd.PersistentFlags().StringVar(&cfg.Fingerprint, "fingerprint", "",
		"hex encoded fingerprint of the server's static key")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "put KEY VALUE",
			Short: "Store VALUE under KEY",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, &cfg, func(ctx context.Context, c *client.Client) (*commands.Response, error) {
					return c.Put(ctx, args[0], []byte(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:   "get KEY",
			Short: "Print the value stored under KEY",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, &cfg, func(ctx context.Context, c *client.Client) (*commands.Response, error) {
					return c.Get(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

func run(cmd *cobra.Command, cfg *Config, fn func(context.Context, *client.Client) (*commands.Response, error)) error {
	clientCfg, err := cfg.load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.Dial(ctx, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %v", err)
	}
	defer c.Close()

	resp, err := fn(ctx, c)
	if err != nil {
		return err
	}
	switch resp.Code {
	case commands.StatusOK:
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Value)
		return nil
	case commands.StatusNotFound:
		return fmt.Errorf("key '%v' not found", resp.Key)
	default:
		return fmt.Errorf("request failed: %v", resp)
	}
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}
