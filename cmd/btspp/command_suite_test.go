package main

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"

	"github.com/srg/btspp/internal/providerfactory"
	"github.com/srg/btspp/spp"
	"github.com/srg/btspp/spp/spptest"
)

// Test device addresses for consistent mock device identification
const (
	testDeviceAddress1 = "00:00:00:00:00:01"
	testDeviceAddress2 = "00:00:00:00:00:02"
)

// CommandTestSuite routes every command through an in-memory provider by
// overriding the platform factory. Embedding suites get a fresh provider per
// test and the override is restored on teardown.
type CommandTestSuite struct {
	suite.Suite

	Provider   *spptest.Provider
	oldFactory func(*logrus.Logger) (spp.Provider, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Provider = spptest.New()
	s.oldFactory = providerfactory.New
	providerfactory.New = func(*logrus.Logger) (spp.Provider, error) {
		return s.Provider, nil
	}

	// Command flag values are package globals; reset them between tests.
	sendHex = false
	sendReadReply = false
	sendReplyTimeout = 5 * time.Second
	sendConnectTimeout = 0
	sendServiceUUID = ""

	// Persistent flags keep their values across Execute calls.
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("config", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
}

func (s *CommandTestSuite) TearDownTest() {
	providerfactory.New = s.oldFactory
}

// PeerAddr parses a textual address into the form the provider indexes by.
func (s *CommandTestSuite) PeerAddr(address string) uint64 {
	dev, err := spp.NewDevice("", address)
	s.Require().NoError(err)
	return dev.Addr
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
