package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/btspp/internal/groutine"
)

// termCmd opens an interactive terminal on the remote serial port.
var termCmd = &cobra.Command{
	Use:   "term <device-address>",
	Short: "Open an interactive terminal on a device's serial port",
	Long: `Connects to the device and attaches the local terminal to its
serial-port service: keystrokes go to the device, device output goes to the
screen. The local terminal is switched to raw mode for the duration.

Press Ctrl-] to exit.

Example:
  btspp term 00:02:B0:57:7D:D6`,
	Args: cobra.ExactArgs(1),
	RunE: runTerm,
}

var (
	termConnectTimeout time.Duration
	termServiceUUID    string
)

// exitKey is Ctrl-], the traditional telnet escape.
const exitKey = 0x1D

func init() {
	termCmd.Flags().DurationVar(&termConnectTimeout, "connect-timeout", 0, "Connection timeout (0 = config default)")
	termCmd.Flags().StringVar(&termServiceUUID, "service", "", "Service UUID to connect to (default: serial port)")
}

func runTerm(cmd *cobra.Command, args []string) error {
	cc, err := resolveCommandConfig(cmd, termConnectTimeout, termServiceUUID)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("term requires an interactive terminal on stdin")
	}

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", args[0]), "Connecting")
	progress.Start()

	session, err := connectSession(context.Background(), cc, args[0])
	progress.Stop()
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s. Press Ctrl-] to exit.\n", session.Device())

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("set terminal raw: %w", err)
	}
	defer func() {
		_ = term.Restore(stdinFd, oldState)
		fmt.Fprintln(cmd.OutOrStdout())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Keystrokes to the device. Exits the whole command on Ctrl-].
	groutine.Go(ctx, "term-stdin-pump", func(ctx context.Context) {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				cancel()
				return
			}
			for i := 0; i < n; i++ {
				if buf[i] == exitKey {
					cancel()
					return
				}
			}
			if _, err := session.Write(buf[:n]); err != nil {
				cancel()
				return
			}
		}
	})

	// Device output to the screen.
	out := make([]byte, cc.cfg.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, ok := session.PollRead(out)
		if ok && n > 0 {
			if _, err := os.Stdout.Write(out[:n]); err != nil {
				return err
			}
			continue
		}
		if !session.Ready() {
			return errors.New("connection lost")
		}
		time.Sleep(replyPollInterval)
	}
}
