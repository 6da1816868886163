package emulator_test

import (
	"context"
	"testing"
	"time"

	"github.com/JJeremyXu/licence-tool/device/dongle"
	"github.com/JJeremyXu/licence-tool/device/target"
	"github.com/JJeremyXu/licence-tool/hid"
	"github.com/JJeremyXu/licence-tool/internal/emulator"
	"github.com/JJeremyXu/licence-tool/virtualbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *virtualbus.VirtualBus {
	t.Helper()
	bus := virtualbus.New(nil)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestDongleOverVirtualBus(t *testing.T) {
	bus := newBus(t)
	secret := []byte("test secret")
	emu := emulator.NewDongle(emulator.DongleConfig{Credits: 2, CounterOffset: 10, Secret: secret}, nil)
	_, err := bus.Add(emu)
	require.NoError(t, err)

	d := dongle.New(bus, dongle.Options{CounterOffset: 10}, nil, nil)
	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	n, err := d.QueryCounter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(2), n)

	uuid := make([]byte, 128)
	for i := range uuid {
		uuid[i] = byte(i * 3)
	}
	license, err := d.ExchangeUUIDForLicense(context.Background(), uuid)
	require.NoError(t, err)
	want, err := emulator.DeriveLicense(secret, uuid)
	require.NoError(t, err)
	assert.Equal(t, want, license)

	n, err = d.QueryCounter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(1), n)
	assert.Equal(t, uint16(1), emu.Credits())
}

func TestDongleOutOfCreditsIsSilent(t *testing.T) {
	bus := newBus(t)
	_, err := bus.Add(emulator.NewDongle(emulator.DongleConfig{Credits: 0}, nil))
	require.NoError(t, err)

	d := dongle.New(bus, dongle.Options{LicenseTimeout: 50 * time.Millisecond}, nil, nil)
	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	_, err = d.ExchangeUUIDForLicense(context.Background(), make([]byte, 128))
	assert.ErrorIs(t, err, hid.ErrTimeout)
}

func TestDeriveLicenseIsDeterministic(t *testing.T) {
	a, err := emulator.DeriveLicense([]byte("k"), []byte("id-1"))
	require.NoError(t, err)
	b, err := emulator.DeriveLicense([]byte("k"), []byte("id-1"))
	require.NoError(t, err)
	c, err := emulator.DeriveLicense([]byte("k"), []byte("id-2"))
	require.NoError(t, err)

	assert.Len(t, a, 256)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTargetOverVirtualBus(t *testing.T) {
	tests := []struct {
		name     string
		streamed bool
		mode     target.IdentifierMode
		reports  int
	}{
		{name: "single shot", mode: target.SingleShot, reports: 1},
		{name: "streamed", streamed: true, mode: target.Accumulate, reports: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newBus(t)
			emu := emulator.NewTarget(emulator.TargetConfig{Streamed: tt.streamed}, nil)
			_, err := bus.Add(emu)
			require.NoError(t, err)

			tg := target.New(bus, target.Options{IdentifierMode: tt.mode, ChunkDelay: time.Millisecond}, nil, nil)
			require.NoError(t, tg.Connect(context.Background()))
			defer tg.Close()

			id, err := tg.ReadIdentifier(context.Background())
			require.NoError(t, err)
			assert.Equal(t, emu.Identifier(), id)

			_, ok := emu.StoredLicense()
			assert.False(t, ok)

			license := make([]byte, 256)
			for i := range license {
				license[i] = byte(255 - i)
			}
			require.NoError(t, tg.WriteLicense(context.Background(), license))
			require.Eventually(t, func() bool {
				got, ok := emu.StoredLicense()
				return ok && assert.ObjectsAreEqual(license, got)
			}, time.Second, 5*time.Millisecond)
		})
	}
}

func TestTargetUnplugDuringRead(t *testing.T) {
	bus := newBus(t)
	emu := emulator.NewTarget(emulator.TargetConfig{}, nil)
	_, err := bus.Add(emu)
	require.NoError(t, err)

	tg := target.New(bus, target.Options{}, nil, nil)
	require.NoError(t, tg.Connect(context.Background()))
	require.NoError(t, bus.Remove(emu))

	require.Eventually(t, func() bool { return !tg.Connected() }, time.Second, 5*time.Millisecond)
	_, err = tg.ReadIdentifier(context.Background())
	assert.ErrorIs(t, err, hid.ErrNotConnected)
}
