package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/JJeremyXu/licence-tool/device"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/log"
	th "github.com/JJeremyXu/licence-tool/internal/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profile = device.Profile{Name: "widget", Filter: hid.Filter{VendorID: 0x1234, ProductID: 0x5678}}

func echo(r hid.Report) []hid.Report { return []hid.Report{hid.NewReport(r.ID+1, r.Data())} }

func TestBeginWithoutConnectionDoesNoIO(t *testing.T) {
	ft := th.CreateMockTransport(t, 64, echo)
	s := device.NewSession(profile, ft, nil, nil)

	_, err := s.Begin("poll")
	require.Error(t, err)
	assert.ErrorIs(t, err, hid.ErrNotConnected)
	assert.Contains(t, err.Error(), "widget: poll")
	assert.Equal(t, 0, ft.Opens())
	assert.False(t, s.Connected())
}

func TestConnectIsIdempotent(t *testing.T) {
	ft := th.CreateMockTransport(t, 64, echo)
	rec := &log.Recorder{}
	s := device.NewSession(profile, ft, nil, rec)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, ft.Opens())
	assert.True(t, s.Connected())
	assert.Equal(t, profile.Filter, ft.Last().Filter())

	info, ok := s.Info()
	require.True(t, ok)
	assert.Equal(t, "Fake HID", info.Product)
	assert.Len(t, rec.Tagged(log.TagInfo), 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
	_, ok = s.Info()
	assert.False(t, ok)
}

func TestConnectPropagatesTransportErrors(t *testing.T) {
	for _, want := range []error{hid.ErrNoDeviceSelected, hid.ErrNotSupported} {
		t.Run(want.Error(), func(t *testing.T) {
			ft := th.CreateMockTransport(t, 64, nil)
			ft.Err = want
			s := device.NewSession(profile, ft, nil, nil)
			err := s.Connect(context.Background())
			assert.ErrorIs(t, err, want)
			assert.False(t, s.Connected())
		})
	}

	s := device.NewSession(profile, nil, nil, nil)
	assert.ErrorIs(t, s.Connect(context.Background()), hid.ErrNotSupported)
}

func TestExchangeSendAndAwait(t *testing.T) {
	ft := th.CreateMockTransport(t, 64, echo)
	rec := &log.Recorder{}
	s := device.NewSession(profile, ft, nil, rec)
	require.NoError(t, s.Connect(context.Background()))

	x, err := s.Begin("echo")
	require.NoError(t, err)
	defer x.End()

	p, err := x.Expect(0x11)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, x.Send(0x10, []byte{1, 2, 3}))

	r, err := p.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, r.Data())

	require.Eventually(t, func() bool { return len(rec.Tagged(log.TagInbound)) == 1 }, time.Second, time.Millisecond)
	out := rec.Tagged(log.TagOutbound)
	require.Len(t, out, 1)
	assert.Equal(t, []byte{1, 2, 3}, out[0].Data)
}

func TestSendRejectsOversizedReport(t *testing.T) {
	ft := th.CreateMockTransport(t, 8, nil)
	s := device.NewSession(profile, ft, nil, nil)
	require.NoError(t, s.Connect(context.Background()))

	x, err := s.Begin("oversize")
	require.NoError(t, err)
	defer x.End()

	assert.NoError(t, x.Send(0x01, make([]byte, 7)))
	err = x.Send(0x01, make([]byte, 8))
	assert.ErrorIs(t, err, hid.ErrInvalidArgument)
	assert.Len(t, ft.Last().Sent(), 1)
}

func TestUnplugMovesSessionToDisconnected(t *testing.T) {
	ft := th.CreateMockTransport(t, 64, nil)
	s := device.NewSession(profile, ft, nil, nil)
	require.NoError(t, s.Connect(context.Background()))

	x, err := s.Begin("wait")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		ft.Last().Disconnect()
	}()
	_, err = x.Await(context.Background(), 0x01, 5*time.Second)
	require.ErrorIs(t, err, hid.ErrDisconnected)
	err = x.Fail(err)
	assert.ErrorIs(t, err, hid.ErrDisconnected)
	x.End()
	x.End()

	assert.False(t, s.Connected())
	_, err = s.Begin("after unplug")
	assert.ErrorIs(t, err, hid.ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 2, ft.Opens())
	assert.True(t, s.Connected())
}

func TestOperationsAreSerialised(t *testing.T) {
	ft := th.CreateMockTransport(t, 64, nil)
	s := device.NewSession(profile, ft, nil, nil)
	require.NoError(t, s.Connect(context.Background()))

	x, err := s.Begin("first")
	require.NoError(t, err)

	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		y, err := s.Begin("second")
		if err == nil {
			y.End()
		}
		close(acquired)
	}()
	<-started

	select {
	case <-acquired:
		t.Fatal("second operation ran while the first was active")
	case <-time.After(30 * time.Millisecond):
	}
	x.End()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second operation never ran")
	}
}
