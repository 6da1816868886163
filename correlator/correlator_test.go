package correlator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JJeremyXu/licence-tool/correlator"
	"github.com/JJeremyXu/licence-tool/hid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCorrelator(t *testing.T) (*correlator.Correlator, chan hid.Report, chan struct{}) {
	t.Helper()
	reports := make(chan hid.Report, 16)
	done := make(chan struct{})
	return correlator.New(reports, done, nil), reports, done
}

func TestAwaitIgnoresNonMatchingReports(t *testing.T) {
	c, reports, _ := newCorrelator(t)

	p, err := c.Expect(0x03)
	require.NoError(t, err)
	defer p.Close()

	reports <- hid.NewReport(0x01, []byte{0xaa})
	reports <- hid.NewReport(0x81, []byte{0xbb})
	reports <- hid.NewReport(0x03, []byte{0x05, 0x00})
	reports <- hid.NewReport(0x03, []byte{0x06, 0x00})

	r, err := p.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, hid.ReportID(0x03), r.ID)
	assert.Equal(t, []byte{0x05, 0x00}, r.Data())
}

func TestAwaitResolvesWithFirstMatch(t *testing.T) {
	c, reports, _ := newCorrelator(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		reports <- hid.NewReport(0x04, []byte{1})
		reports <- hid.NewReport(0x03, []byte{2})
		reports <- hid.NewReport(0x03, []byte{3})
	}()

	r, err := c.Await(context.Background(), 0x03, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, r.Data())
}

func TestAwaitTimeoutAndLateReport(t *testing.T) {
	c, reports, _ := newCorrelator(t)

	start := time.Now()
	_, err := c.Await(context.Background(), 0x03, 30*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, hid.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// The late reply has no waiter and is dropped.
	reports <- hid.NewReport(0x03, []byte{0xde, 0xad})
	time.Sleep(20 * time.Millisecond)

	_, err = c.Await(context.Background(), 0x03, 30*time.Millisecond)
	assert.ErrorIs(t, err, hid.ErrTimeout, "a stale report must not satisfy a later wait")

	// The id is free again after each timeout.
	p, err := c.Expect(0x03)
	require.NoError(t, err)
	p.Close()
}

func TestDisconnectFailsPendingWait(t *testing.T) {
	c, _, done := newCorrelator(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	_, err := c.Await(context.Background(), 0x01, 5*time.Second)
	assert.ErrorIs(t, err, hid.ErrDisconnected)

	_, err = c.Expect(0x01)
	assert.ErrorIs(t, err, hid.ErrDisconnected)
	select {
	case <-c.Disconnected():
	default:
		t.Fatal("Disconnected channel should be closed")
	}
}

func TestClosedReportChannelIsDisconnect(t *testing.T) {
	c, reports, _ := newCorrelator(t)
	close(reports)

	_, err := c.Await(context.Background(), 0x01, 5*time.Second)
	assert.ErrorIs(t, err, hid.ErrDisconnected)
}

func TestQueuedReportWinsOverDisconnect(t *testing.T) {
	c, reports, done := newCorrelator(t)

	p, err := c.Expect(0x01)
	require.NoError(t, err)
	reports <- hid.NewReport(0x01, []byte{7})
	require.Eventually(t, func() bool { return len(reports) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(done)
	<-c.Disconnected()

	r, err := p.Next(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, r.Data())
}

func TestSecondWaiterIsRejected(t *testing.T) {
	c, _, _ := newCorrelator(t)

	p, err := c.Expect(0x01)
	require.NoError(t, err)

	_, err = c.Expect(0x01)
	assert.True(t, errors.Is(err, correlator.ErrWaiterExists))

	other, err := c.Expect(0x03)
	require.NoError(t, err, "other ids are independent")
	other.Close()

	p.Close()
	p.Close()
	p2, err := c.Expect(0x01)
	require.NoError(t, err)
	p2.Close()
}

func TestPendingReceivesConsecutiveReports(t *testing.T) {
	c, reports, _ := newCorrelator(t)

	p, err := c.Expect(0x01)
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 5; i++ {
		reports <- hid.NewReport(0x01, []byte{byte(i)})
	}
	for i := 0; i < 5; i++ {
		r, err := p.Next(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, r.Data())
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	c, _, _ := newCorrelator(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Await(ctx, 0x01, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	p, err := c.Expect(0x01)
	require.NoError(t, err, "a cancelled wait deregisters")
	p.Close()
}
