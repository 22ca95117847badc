package spp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/btspp/internal/testutils"
	"github.com/srg/btspp/spp"
	"github.com/srg/btspp/spp/spptest"
)

type TimeoutTestSuite struct {
	suite.Suite

	logger   *logrus.Logger
	provider *spptest.Provider
	session  *spp.Session
	device   spp.Device
}

func (suite *TimeoutTestSuite) SetupTest() {
	suite.logger = testutils.QuietLogger()
	suite.provider = spptest.New()
	suite.session = spp.NewSession(suite.provider, suite.logger)

	dev, err := spp.NewDevice("Slow Peer", "00:11:22:33:44:55")
	suite.Require().NoError(err)
	suite.device = dev
}

func (suite *TimeoutTestSuite) TestFastPipelineResultUnchanged() {
	err := suite.session.ConnectTimeout(context.Background(), suite.device, false, 5*time.Second)

	suite.NoError(err)
	suite.True(suite.session.Ready())
}

func (suite *TimeoutTestSuite) TestFastPipelineErrorUnchanged() {
	suite.provider.Peer(suite.device.Addr).WithResolveError(errors.New("gone"))

	err := suite.session.ConnectTimeout(context.Background(), suite.device, false, 5*time.Second)

	suite.ErrorIs(err, spp.ErrDeviceNotFound)
	suite.NotErrorIs(err, spp.ErrTimedOut)
}

func (suite *TimeoutTestSuite) TestBlockedPairingTimesOut() {
	suite.provider.Peer(suite.device.Addr).PairingBlocked()

	start := time.Now()
	err := suite.session.ConnectTimeout(context.Background(), suite.device, true, 1*time.Second)
	elapsed := time.Since(start)

	suite.Require().Error(err)
	suite.ErrorIs(err, spp.ErrTimedOut)
	suite.NotErrorIs(err, spp.ErrDeviceNotPairing)

	var serr *spp.Error
	suite.Require().ErrorAs(err, &serr)
	suite.Equal(1*time.Second, serr.Timeout)

	// Bounded wall-clock wait: the guard returns promptly, not when the
	// abandoned pipeline eventually gives up.
	suite.Less(elapsed, 1200*time.Millisecond)

	suite.Equal(spp.StateFailed, suite.session.State())
	suite.Equal(spp.KindTimedOut, suite.session.Failure())
	suite.False(suite.session.Ready())
}

func (suite *TimeoutTestSuite) TestReconnectAfterTimeout() {
	suite.provider.Peer(suite.device.Addr).PairingBlocked()
	err := suite.session.ConnectTimeout(context.Background(), suite.device, true, 50*time.Millisecond)
	suite.Require().ErrorIs(err, spp.ErrTimedOut)

	// A fresh attempt without pairing starts a wholly new pipeline.
	err = suite.session.Connect(context.Background(), suite.device, false)

	suite.NoError(err)
	suite.True(suite.session.Ready())
}

func (suite *TimeoutTestSuite) TestAbandonedPipelineSocketClosed() {
	// Block the pairing stage forever; the pipeline never reaches the socket
	// stage, so the abandoned attempt must not leave anything open.
	suite.provider.Peer(suite.device.Addr).PairingBlocked()
	err := suite.session.ConnectTimeout(context.Background(), suite.device, true, 50*time.Millisecond)
	suite.Require().ErrorIs(err, spp.ErrTimedOut)

	// Give the abandoned pipeline a moment to unwind on context cancellation.
	time.Sleep(100 * time.Millisecond)
	suite.Equal(0, suite.provider.ClosedSockets())
	suite.Nil(suite.provider.LastSocket())
}

// slowSocketProvider stalls the socket connect stage for a fixed duration.
// The connect itself does not observe cancellation, like a native call that
// cannot be interrupted mid-flight.
type slowSocketProvider struct {
	*spptest.Provider
	delay time.Duration
}

func (p *slowSocketProvider) ConnectSocket(_ context.Context, svc spp.ServiceHandle) (spp.SocketHandle, error) {
	time.Sleep(p.delay)
	return p.Provider.ConnectSocket(context.Background(), svc)
}

func (suite *TimeoutTestSuite) TestSocketClosedWhenConnectRacesDeadline() {
	// The connect stage takes exactly the deadline budget, so the pipeline
	// finishes in the same instant the timer fires. Whichever side wins, a
	// timed-out attempt must never leave its socket open.
	const budget = 20 * time.Millisecond

	for i := 0; i < 25; i++ {
		provider := spptest.New()
		slow := &slowSocketProvider{Provider: provider, delay: budget}
		session := spp.NewSession(slow, suite.logger)

		err := session.ConnectTimeout(context.Background(), suite.device, false, budget)
		if err == nil {
			suite.True(session.Ready())
			suite.NoError(session.Close())
			continue
		}
		suite.Require().ErrorIs(err, spp.ErrTimedOut)
		suite.False(session.Ready())

		// The stalled connect always opens its socket, and cleanup of the
		// abandoned attempt is asynchronous.
		suite.Require().Eventually(func() bool {
			sock := provider.LastSocket()
			return sock != nil && sock.Closed()
		}, time.Second, 5*time.Millisecond, "iteration %d left the abandoned socket open", i)
	}
}

func TestTimeoutTestSuite(t *testing.T) {
	suite.Run(t, new(TimeoutTestSuite))
}
