package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/btspp/spp"
)

// sendCmd writes one payload to a device's serial-port service.
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <data>",
	Short: "Send data to a device's serial port",
	Long: `Connects to the device, writes the payload to its serial-port
service, and optionally waits for a reply.

By default the payload is sent as-is. With --hex the payload is parsed as hex
digits (spaces and colons are ignored) and any reply is printed as hex.

Example:
  btspp send 00:02:B0:57:7D:D6 "AT+VERSION?"
  btspp send --hex --read-reply 00:02:B0:57:7D:D6 "01 A0 FF"`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendHex            bool
	sendReadReply      bool
	sendReplyTimeout   time.Duration
	sendConnectTimeout time.Duration
	sendServiceUUID    string
)

const replyPollInterval = 5 * time.Millisecond

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Treat payload and reply as hex bytes")
	sendCmd.Flags().BoolVar(&sendReadReply, "read-reply", false, "Wait for and print a reply")
	sendCmd.Flags().DurationVar(&sendReplyTimeout, "reply-timeout", 5*time.Second, "How long to wait for a reply")
	sendCmd.Flags().DurationVar(&sendConnectTimeout, "connect-timeout", 0, "Connection timeout (0 = config default)")
	sendCmd.Flags().StringVar(&sendServiceUUID, "service", "", "Service UUID to connect to (default: serial port)")
}

func parsePayload(arg string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(arg), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(strings.ToLower(arg))
	payload, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", arg, err)
	}
	return payload, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	cc, err := resolveCommandConfig(cmd, sendConnectTimeout, sendServiceUUID)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	payload, err := parsePayload(args[1], sendHex)
	if err != nil {
		return err
	}

	session, err := connectSession(context.Background(), cc, args[0])
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Write(payload); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if err := session.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %d bytes to %s\n", len(payload), session.Device())

	if !sendReadReply {
		return nil
	}

	reply, err := awaitReply(session, cc.cfg.BufferSize, sendReplyTimeout)
	if err != nil {
		return err
	}
	if sendHex {
		fmt.Fprintf(cmd.OutOrStdout(), "Reply: % X\n", reply)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Reply: %s\n", string(reply))
	}
	return nil
}

// awaitReply polls the receive direction until data arrives or the timeout
// elapses.
func awaitReply(session *spp.Session, bufSize int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, bufSize)
	deadline := time.Now().Add(timeout)
	for {
		n, ok := session.PollRead(buf)
		if ok && n > 0 {
			return buf[:n], nil
		}
		if !session.Ready() {
			return nil, spp.ErrNotConnected
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no reply within %s", timeout)
		}
		time.Sleep(replyPollInterval)
	}
}
