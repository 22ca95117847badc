//go:build !windows

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/btspp/bridge"
	"github.com/srg/btspp/internal/providerfactory"
)

// bridgeCmd exposes a device's serial port as a local PTY.
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Bridge a device's serial port to a local PTY",
	Long: `Connects to the device and creates a local pseudo-terminal wired to
its serial-port service. Any program that opens the printed /dev/pts/N path
talks to the remote device as if it were a local serial port.

This is useful for:
- Connecting terminal emulators to Bluetooth serial devices
- Using existing serial tooling with wireless peripherals
- Testing and debugging serial-over-Bluetooth firmware

The bridge runs until interrupted (Ctrl+C).

Example:
  btspp bridge 00:02:B0:57:7D:D6
  btspp bridge --symlink /tmp/my-device 00:02:B0:57:7D:D6`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeConnectTimeout time.Duration
	bridgeServiceUUID    string
	bridgeSymlink        string
)

func init() {
	bridgeCmd.Flags().DurationVar(&bridgeConnectTimeout, "connect-timeout", 0, "Connection timeout (0 = config default)")
	bridgeCmd.Flags().StringVar(&bridgeServiceUUID, "service", "", "Service UUID to bridge (default: serial port)")
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/my-device)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cc, err := resolveCommandConfig(cmd, bridgeConnectTimeout, bridgeServiceUUID)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	provider, err := providerfactory.New(cc.logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := NewProgressPrinter(fmt.Sprintf("Starting bridge for %s", args[0]), "Connecting", "Running")
	progress.Start()
	defer progress.Stop()

	opts := &bridge.Options{
		Address:         args[0],
		Service:         cc.service,
		ConnectTimeout:  cc.timeout,
		PairingPolicy:   cc.policy,
		Logger:          cc.logger,
		PTYReadBufSize:  cc.cfg.BufferSize,
		PTYWriteBufSize: cc.cfg.BufferSize,
		TTYSymlinkPath:  bridgeSymlink,
	}

	_, err = bridge.RunSessionBridge(ctx, provider, opts, progress.Callback(),
		func(b bridge.Bridge) (struct{}, error) {
			fmt.Fprintf(cmd.OutOrStdout(), "Bridge ready: %s\n", b.TTYName())
			if link := b.TTYSymlink(); link != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Symlink:      %s\n", link)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop.")

			<-ctx.Done()

			stats := b.PTY().Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "\nBridge stopped: %d bytes in, %d bytes out\n",
				stats.WriteBytesTotal, stats.ReadBytesTotal)
			return struct{}{}, nil
		})
	return err
}
