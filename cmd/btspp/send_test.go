package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/btspp/internal/testutils"
	"github.com/srg/btspp/spp"
)

type SendCommandTestSuite struct {
	CommandTestSuite
}

func (s *SendCommandTestSuite) TestSendReportsByteCount() {
	out, err := s.ExecuteCommand(rootCmd, "send", testDeviceAddress1, "AT+VERSION?")
	s.Require().NoError(err)
	testutils.AssertText(s.T(), out, "Sent 11 bytes to "+testDeviceAddress1)
}

func (s *SendCommandTestSuite) TestSendReadsEchoedReply() {
	out, err := s.ExecuteCommand(rootCmd, "send", "--read-reply", testDeviceAddress1, "ping")
	s.Require().NoError(err)
	testutils.AssertText(s.T(), out, `
Sent 4 bytes to `+testDeviceAddress1+`
Reply: ping
`)
}

func (s *SendCommandTestSuite) TestSendHexPayload() {
	out, err := s.ExecuteCommand(rootCmd, "send", "--hex", "--read-reply", testDeviceAddress1, "01 A0 FF")
	s.Require().NoError(err)
	testutils.AssertText(s.T(), out, `
Sent 3 bytes to `+testDeviceAddress1+`
Reply: 01 A0 FF
`)
}

func (s *SendCommandTestSuite) TestSendRejectsBadHex() {
	_, err := s.ExecuteCommand(rootCmd, "send", "--hex", testDeviceAddress1, "zz")
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "invalid hex payload")
}

func (s *SendCommandTestSuite) TestSendRejectsBadAddress() {
	_, err := s.ExecuteCommand(rootCmd, "send", "not-an-address", "data")
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "invalid device address")
}

func (s *SendCommandTestSuite) TestSendUnknownDevice() {
	s.Provider.Peer(s.PeerAddr(testDeviceAddress2)).
		WithResolveError(fmt.Errorf("no such device"))

	_, err := s.ExecuteCommand(rootCmd, "send", testDeviceAddress2, "data")
	s.Require().Error(err)
	s.Require().ErrorIs(err, spp.ErrDeviceNotFound)
}

func (s *SendCommandTestSuite) TestSendInvalidLogLevel() {
	_, err := s.ExecuteCommand(rootCmd, "send", "--log-level", "loud", testDeviceAddress1, "data")
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "invalid log level")
}

func TestSendCommandSuite(t *testing.T) {
	suite.Run(t, new(SendCommandTestSuite))
}
