package spp_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/btspp/internal/testutils"
	"github.com/srg/btspp/spp"
	"github.com/srg/btspp/spp/spptest"
)

type StreamTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	provider *spptest.Provider
	session  *spp.Session
	device   spp.Device
}

func (suite *StreamTestSuite) SetupTest() {
	suite.logger = testutils.QuietLogger()
	suite.provider = spptest.New()
	suite.session = spp.NewSession(suite.provider, suite.logger)

	dev, err := spp.NewDevice("Stream Peer", "D0:AE:05:05:1A:22")
	suite.Require().NoError(err)
	suite.device = dev
}

func (suite *StreamTestSuite) connect() {
	suite.Require().NoError(suite.session.Connect(context.Background(), suite.device, false))
}

func (suite *StreamTestSuite) TestPollReadOnIdleSessionStaysPending() {
	buf := make([]byte, 16)

	n, ok := suite.session.PollRead(buf)

	suite.Zero(n)
	suite.False(ok)
	// No native operation may be started while the session is not ready.
	suite.Equal(0, suite.provider.MaxReadsInFlight())
}

func (suite *StreamTestSuite) TestWriteThenReadEchoes() {
	suite.connect()

	n, ok := suite.session.PollWrite([]byte{0xA5, 0xA5, 0x02})
	suite.Zero(n)
	suite.False(ok) // first poll starts the operation

	n, ok = suite.session.PollWrite([]byte{0xA5, 0xA5, 0x02})
	suite.True(ok)
	suite.Equal(3, n)

	buf := make([]byte, 8)
	_, ok = suite.session.PollRead(buf) // starts the read
	suite.False(ok)
	n, ok = suite.session.PollRead(buf)
	suite.True(ok)
	suite.Equal(3, n)
	suite.Equal([]byte{0xA5, 0xA5, 0x02}, buf[:3])
}

func (suite *StreamTestSuite) TestReadStaysPendingUntilDataArrives() {
	suite.connect()
	buf := make([]byte, 4)

	// Drive the read poll repeatedly with nothing to echo back.
	for i := 0; i < 5; i++ {
		n, ok := suite.session.PollRead(buf)
		suite.Zero(n)
		suite.False(ok)
	}

	_, err := suite.session.Write([]byte{7})
	suite.Require().NoError(err)

	n, ok := suite.session.PollRead(buf)
	suite.True(ok)
	suite.Equal(1, n)
	suite.Equal(byte(7), buf[0])
}

func (suite *StreamTestSuite) TestSingleInFlightOperationPerDirection() {
	suite.connect()
	buf := make([]byte, 4)

	// Interleave polls in both directions; the adapter must reuse its single
	// slot per direction instead of starting new native operations.
	for i := 0; i < 10; i++ {
		suite.session.PollRead(buf)
		suite.session.PollWrite([]byte{1, 2})
		suite.session.PollRead(buf)
	}

	suite.LessOrEqual(suite.provider.MaxReadsInFlight(), 1)
	suite.LessOrEqual(suite.provider.MaxWritesInFlight(), 1)
}

func (suite *StreamTestSuite) TestFailedReadClearsReadiness() {
	suite.connect()
	suite.provider.FailNextRead()

	buf := make([]byte, 4)
	_, ok := suite.session.PollRead(buf) // starts the operation
	suite.False(ok)
	_, ok = suite.session.PollRead(buf) // observes the injected failure
	suite.False(ok)

	suite.False(suite.session.Ready())

	// Degraded sessions surface NotConnected through the blocking wrappers.
	_, err := suite.session.Read(buf)
	suite.ErrorIs(err, spp.ErrNotConnected)
}

func (suite *StreamTestSuite) TestFailedWriteClearsReadiness() {
	suite.connect()
	suite.provider.FailNextWrite()

	_, ok := suite.session.PollWrite([]byte{9})
	suite.False(ok)
	_, ok = suite.session.PollWrite([]byte{9})
	suite.False(ok)

	suite.False(suite.session.Ready())
}

func (suite *StreamTestSuite) TestReadinessRestoredByReconnect() {
	suite.connect()
	suite.provider.FailNextWrite()
	suite.session.PollWrite([]byte{1})
	suite.session.PollWrite([]byte{1})
	suite.Require().False(suite.session.Ready())

	suite.Require().NoError(suite.session.Connect(context.Background(), suite.device, false))

	suite.True(suite.session.Ready())
	_, err := suite.session.Write([]byte{4, 5})
	suite.NoError(err)
}

func (suite *StreamTestSuite) TestFlush() {
	suite.connect()

	// Nothing outstanding: immediate success.
	suite.NoError(suite.session.Flush())

	suite.session.PollWrite([]byte{1, 2, 3}) // leave a write in flight
	suite.NoError(suite.session.Flush())

	// The flushed write still echoed its payload.
	buf := make([]byte, 4)
	n, err := suite.session.Read(buf)
	suite.NoError(err)
	suite.Equal(3, n)
}

func (suite *StreamTestSuite) TestZeroLengthPolls() {
	suite.connect()

	n, ok := suite.session.PollRead(nil)
	suite.True(ok)
	suite.Zero(n)

	n, ok = suite.session.PollWrite(nil)
	suite.True(ok)
	suite.Zero(n)

	suite.Equal(0, suite.provider.MaxReadsInFlight())
	suite.Equal(0, suite.provider.MaxWritesInFlight())
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}
