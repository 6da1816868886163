package hidraw

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/JJeremyXu/licence-tool/hid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dongleUevent = `DRIVER=hid-generic
HID_ID=0003:00000483:00005750
HID_NAME=ACME License Dongle
HID_PHYS=usb-0000:00:14.0-2/input0
HID_UNIQ=DNG-0042
MODALIAS=hid:b0003g0001v00000483p00005750
`

func TestParseUevent(t *testing.T) {
	ev, err := parseUevent(strings.NewReader(dongleUevent))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0003), ev.bus)
	assert.Equal(t, uint16(0x0483), ev.vendorID)
	assert.Equal(t, uint16(0x5750), ev.productID)
	assert.Equal(t, "ACME License Dongle", ev.name)
	assert.Equal(t, "DNG-0042", ev.uniq)
}

func TestParseUeventErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing id", input: "HID_NAME=x\n"},
		{name: "short id", input: "HID_ID=0003:0483\n"},
		{name: "not hex", input: "HID_ID=0003:zz:00005750\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUevent(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func writeDescriptor(t *testing.T, root, node string, desc []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, node, "device", "report_descriptor"), desc, 0o644))
}

func writeNode(t *testing.T, root, node, uevent string) {
	t.Helper()
	dir := filepath.Join(root, node, "device")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0o644))
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "hidraw10", "HID_ID=0003:00000483:00005751\nHID_NAME=Target Board\n")
	writeNode(t, root, "hidraw2", dongleUevent)
	writeNode(t, root, "hidraw3", "garbage\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "unrelated"), 0o755))

	tr := New(Config{SysfsRoot: root, DevRoot: "/dev", ReportSize: 65}, nil)
	devices, err := tr.enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "/dev/hidraw2", devices[0].info.Path)
	assert.Equal(t, "ACME License Dongle", devices[0].info.Product)
	assert.Equal(t, "DNG-0042", devices[0].info.Serial)
	assert.Equal(t, 65, devices[0].info.ReportSize, "no descriptor falls back to the configured size")
	assert.Equal(t, "/dev/hidraw10", devices[1].info.Path, "nodes sort numerically")

	d, err := pick(devices, hid.Filter{VendorID: 0x0483, ProductID: 0x5751})
	require.NoError(t, err)
	assert.Equal(t, "Target Board", d.info.Product)

	d, err = pick(devices, hid.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/hidraw2", d.info.Path)

	_, err = pick(devices, hid.Filter{VendorID: 0xdead, ProductID: 0xbeef})
	assert.ErrorIs(t, err, hid.ErrNoDeviceSelected)
}

func TestEnumerateSizesEachDeviceFromItsDescriptor(t *testing.T) {
	root := t.TempDir()
	writeNode(t, root, "hidraw0", dongleUevent)
	writeDescriptor(t, root, "hidraw0", dongleDescriptor)
	writeNode(t, root, "hidraw1", "HID_ID=0003:00000483:00005751\nHID_NAME=Target Board\n")
	writeDescriptor(t, root, "hidraw1", targetDescriptor)

	tr := New(Config{SysfsRoot: root}, nil)
	devices, err := tr.enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	dongle, target := devices[0], devices[1]
	assert.Equal(t, 64, dongle.info.ReportSize)
	assert.Equal(t, 257, target.info.ReportSize)

	assert.Equal(t, 64, writeSize(dongle.info, dongle.layout, 0x04), "counter request keeps its own length")
	assert.Equal(t, 64, writeSize(target.info, target.layout, 0x80), "identifier request is not padded to the license size")
	assert.Equal(t, 257, writeSize(target.info, target.layout, 0x82))
	assert.Equal(t, 257, writeSize(target.info, target.layout, 0x7f), "undeclared reports use the report size")

	d, err := pick(devices, hid.Filter{VendorID: 0x0483, ProductID: 0x5751, ReportSize: 129})
	require.NoError(t, err)
	assert.Equal(t, 129, d.info.ReportSize, "filter overrides the descriptor")
	assert.Equal(t, 257, devices[1].info.ReportSize, "override does not leak into the enumeration")
}

func TestListMatchesEnumerate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("hidraw is linux only")
	}
	root := t.TempDir()
	writeNode(t, root, "hidraw0", dongleUevent)
	writeDescriptor(t, root, "hidraw0", dongleDescriptor)

	infos, err := New(Config{SysfsRoot: root}, nil).List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 64, infos[0].ReportSize)
	assert.Equal(t, uint16(0x5750), infos[0].ProductID)
}

func TestEnumerateMissingRoot(t *testing.T) {
	tr := New(Config{SysfsRoot: filepath.Join(t.TempDir(), "absent")}, nil)
	devices, err := tr.enumerate()
	require.NoError(t, err)
	assert.Empty(t, devices)
}
