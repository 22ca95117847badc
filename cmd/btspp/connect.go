package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/btspp/internal/providerfactory"
	"github.com/srg/btspp/pkg/config"
	"github.com/srg/btspp/spp"
)

// commandConfig is the merged flag/file configuration a connected command
// runs with.
type commandConfig struct {
	logger  *logrus.Logger
	cfg     *config.Config
	timeout time.Duration
	service spp.ServiceID
	policy  spp.PairingPolicy
}

// resolveCommandConfig merges the config file with command flags. Flags win.
func resolveCommandConfig(cmd *cobra.Command, timeoutFlag time.Duration, serviceFlag string) (*commandConfig, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	timeout := timeoutFlag
	if timeout == 0 {
		if timeout, err = cfg.Timeout(); err != nil {
			return nil, err
		}
	}

	serviceStr := serviceFlag
	if serviceStr == "" {
		serviceStr = cfg.Service
	}
	service := spp.SerialPort
	if serviceStr != "" {
		if service, err = spp.ParseServiceID(serviceStr); err != nil {
			return nil, fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	var policy spp.PairingPolicy
	switch cfg.PairingPolicy {
	case "", "all":
		policy = spp.AcceptAll
	case "confirm-only":
		policy = spp.AcceptConfirmOnly
	default:
		return nil, fmt.Errorf("invalid pairing_policy %q (must be all or confirm-only)", cfg.PairingPolicy)
	}

	return &commandConfig{
		logger:  logger,
		cfg:     cfg,
		timeout: timeout,
		service: service,
		policy:  policy,
	}, nil
}

// connectSession opens a session to address using the merged configuration.
// The returned session is connected and ready; the caller owns Close.
func connectSession(ctx context.Context, cc *commandConfig, address string) (*spp.Session, error) {
	dev, err := spp.NewDevice("", address)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", address, err)
	}

	provider, err := providerfactory.New(cc.logger)
	if err != nil {
		return nil, err
	}

	session := spp.NewSession(provider, cc.logger, spp.WithPairingPolicy(cc.policy))
	if err := session.ConnectServiceTimeout(ctx, dev, cc.service, true, cc.timeout); err != nil {
		return nil, err
	}
	return session, nil
}
