//go:build !windows

package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/btspp/internal/testutils"
	"github.com/srg/btspp/spp"
	"github.com/srg/btspp/spp/spptest"
)

const testDeviceAddr = "00:02:B0:57:7D:D6"

type BridgeTestSuite struct {
	suite.Suite

	provider *spptest.Provider
	logger   *logrus.Logger
	addr     uint64
}

func (s *BridgeTestSuite) SetupTest() {
	s.provider = spptest.New()
	s.logger = testutils.QuietLogger()

	dev, err := spp.NewDevice("", testDeviceAddr)
	s.Require().NoError(err)
	s.addr = dev.Addr
}

func (s *BridgeTestSuite) options() *Options {
	return &Options{
		Address:        testDeviceAddr,
		ConnectTimeout: 5 * time.Second,
		Logger:         s.logger,
	}
}

func (s *BridgeTestSuite) TestRejectsNilOptions() {
	_, err := RunSessionBridge(context.Background(), s.provider, nil, nil,
		func(Bridge) (struct{}, error) { return struct{}{}, nil })
	s.Require().Error(err)
}

func (s *BridgeTestSuite) TestRejectsMissingAddress() {
	opts := s.options()
	opts.Address = ""
	_, err := RunSessionBridge(context.Background(), s.provider, opts, nil,
		func(Bridge) (struct{}, error) { return struct{}{}, nil })
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "address")
}

func (s *BridgeTestSuite) TestConnectsAndExposesTTY() {
	s.provider.Peer(s.addr)

	var phases []string
	tty, err := RunSessionBridge(context.Background(), s.provider, s.options(),
		func(phase string) { phases = append(phases, phase) },
		func(b Bridge) (string, error) {
			s.Require().True(b.Session().Ready())
			s.Require().Equal(spp.SerialPort, b.Session().Service())
			s.Require().Empty(b.TTYSymlink())
			return b.TTYName(), nil
		})
	s.Require().NoError(err)
	s.Require().NotEmpty(tty)
	s.Require().Equal([]string{"Connecting", "Connected", "Setting up PTY", "Running"}, phases)
}

func (s *BridgeTestSuite) TestConnectFailureReportsFailedPhase() {
	cause := fmt.Errorf("socket refused")
	s.provider.Peer(s.addr).WithConnectError(cause)

	var phases []string
	_, err := RunSessionBridge(context.Background(), s.provider, s.options(),
		func(phase string) { phases = append(phases, phase) },
		func(b Bridge) (struct{}, error) {
			s.FailNow("callback must not run after a failed connect")
			return struct{}{}, nil
		})
	s.Require().Error(err)
	s.Require().ErrorIs(err, spp.ErrNotConnected)
	s.Require().Equal([]string{"Connecting", "Failed"}, phases)
}

func (s *BridgeTestSuite) TestSymlinkLifecycle() {
	s.provider.Peer(s.addr)

	link := filepath.Join(s.T().TempDir(), "my-device")
	opts := s.options()
	opts.TTYSymlinkPath = link

	_, err := RunSessionBridge(context.Background(), s.provider, opts, nil,
		func(b Bridge) (struct{}, error) {
			s.Require().Equal(link, b.TTYSymlink())
			target, err := os.Readlink(link)
			s.Require().NoError(err)
			s.Require().Equal(b.TTYName(), target)
			return struct{}{}, nil
		})
	s.Require().NoError(err)

	_, err = os.Lstat(link)
	s.Require().True(errors.Is(err, os.ErrNotExist), "symlink must be removed on teardown")
}

func (s *BridgeTestSuite) TestPumpRoundTrip() {
	s.provider.Peer(s.addr)

	_, err := RunSessionBridge(context.Background(), s.provider, s.options(), nil,
		func(b Bridge) (struct{}, error) {
			tty, err := os.OpenFile(b.TTYName(), os.O_RDWR, 0)
			s.Require().NoError(err)
			defer tty.Close()

			_, err = tty.Write([]byte("ping"))
			s.Require().NoError(err)

			// The peer echoes writes, so the pump must record the outbound
			// transfer and then the echoed inbound one.
			var seen []TrafficRecord
			s.Require().Eventually(func() bool {
				seen = append(seen, b.DrainTraffic()...)
				var in, out bool
				for _, rec := range seen {
					switch rec.Dir {
					case TrafficIn:
						in = true
					case TrafficOut:
						out = rec.Bytes == len("ping")
					}
				}
				return in && out
			}, 2*time.Second, 10*time.Millisecond, "expected both traffic directions, got %v", seen)
			return struct{}{}, nil
		})
	s.Require().NoError(err)
}

func (s *BridgeTestSuite) TestSessionClosedAfterRun() {
	s.provider.Peer(s.addr)

	var session *spp.Session
	_, err := RunSessionBridge(context.Background(), s.provider, s.options(), nil,
		func(b Bridge) (struct{}, error) {
			session = b.Session()
			return struct{}{}, nil
		})
	s.Require().NoError(err)
	s.Require().False(session.Ready())
	s.Require().Equal(1, s.provider.ClosedSockets())
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeTestSuite))
}
