// Package virtualbus is an in-memory HID bus. Emulated peripherals attach to
// it and sessions open them through the hid.Transport interface, exactly as
// they would open hidraw devices.
package virtualbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/JJeremyXu/licence-tool/hid"
)

const basepath = "virtual/usb"

var (
	globalBusCounter uint32
	allocatedBusIds  = make(map[uint32]bool)
	globalMutex      sync.Mutex
)

// Peripheral is emulated device firmware.
type Peripheral interface {
	// Descriptor returns the identity and report size of the device. The bus
	// fills in Path.
	Descriptor() hid.DeviceInfo
	// HandleReport consumes one host report and returns the reports the
	// device sends back, in order.
	HandleReport(ctx context.Context, r hid.Report) []hid.Report
}

// VirtualBus manages attached peripherals and auto-assigns device paths.
type VirtualBus struct {
	mutex           sync.Mutex
	busId           uint32
	allocatedDevIDs map[uint32]bool
	devices         []*busDevice
	logger          *slog.Logger
}

// New creates a bus with a unique auto-assigned bus number. logger may be nil.
func New(logger *slog.Logger) *VirtualBus {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	busId := globalBusCounter
	if busId == 0 {
		busId = 1
	}
	for allocatedBusIds[busId] {
		busId++
	}
	globalBusCounter = busId + 1
	allocatedBusIds[busId] = true

	if logger == nil {
		logger = slog.Default()
	}
	return &VirtualBus{
		busId:           busId,
		allocatedDevIDs: make(map[uint32]bool),
		logger:          logger.With("bus", busId),
	}
}

// BusID returns the bus number.
func (vb *VirtualBus) BusID() uint32 {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	return vb.busId
}

// Add attaches p and returns a context cancelled when p is removed.
func (vb *VirtualBus) Add(p Peripheral) (context.Context, error) {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()

	for _, d := range vb.devices {
		if d.dev == p {
			return nil, fmt.Errorf("device already registered on this bus")
		}
	}
	var devID uint32
	for i := uint32(1); ; i++ {
		if !vb.allocatedDevIDs[i] {
			devID = i
			vb.allocatedDevIDs[i] = true
			break
		}
	}

	info := p.Descriptor()
	info.Path = fmt.Sprintf("%s%d/%d-%d", basepath, vb.busId, vb.busId, devID)
	if info.ReportSize <= 0 {
		info.ReportSize = hid.DefaultReportSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	vb.devices = append(vb.devices, &busDevice{dev: p, id: devID, info: info, ctx: ctx, cancel: cancel})
	vb.logger.Debug("Attached", "path", info.Path, "product", info.Product)
	return ctx, nil
}

// List describes the attached peripherals.
func (vb *VirtualBus) List(ctx context.Context) ([]hid.DeviceInfo, error) {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	out := make([]hid.DeviceInfo, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, d.info)
	}
	return out, nil
}

// Devices returns the attached peripherals.
func (vb *VirtualBus) Devices() []Peripheral {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	out := make([]Peripheral, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, d.dev)
	}
	return out
}

// Remove detaches p. Open connections to it observe a disconnect.
func (vb *VirtualBus) Remove(p Peripheral) error {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	for i, d := range vb.devices {
		if d.dev == p {
			vb.detach(i)
			return nil
		}
	}
	return fmt.Errorf("device not found")
}

// RemoveDeviceByID detaches a device by its bus-local id (e.g. "1").
func (vb *VirtualBus) RemoveDeviceByID(deviceID string) error {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	for i, d := range vb.devices {
		if fmt.Sprintf("%d", d.id) == deviceID {
			vb.detach(i)
			return nil
		}
	}
	return fmt.Errorf("device with id %s not found on bus %d", deviceID, vb.busId)
}

func (vb *VirtualBus) detach(i int) {
	d := vb.devices[i]
	d.cancel()
	delete(vb.allocatedDevIDs, d.id)
	vb.devices = append(vb.devices[:i], vb.devices[i+1:]...)
	vb.logger.Debug("Detached", "path", d.info.Path)
}

// Close detaches every device and frees the bus number.
func (vb *VirtualBus) Close() error {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()

	for _, d := range vb.devices {
		d.cancel()
	}
	vb.devices = nil
	clear(vb.allocatedDevIDs)

	globalMutex.Lock()
	defer globalMutex.Unlock()
	delete(allocatedBusIds, vb.busId)
	return nil
}

// Open connects to the first attached peripheral matching filter.
func (vb *VirtualBus) Open(ctx context.Context, filter hid.Filter) (hid.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	for _, d := range vb.devices {
		if filter.Match(d.info.VendorID, d.info.ProductID) {
			return newConn(d, vb.logger), nil
		}
	}
	return nil, fmt.Errorf("virtualbus %d: %s: %w", vb.busId, filter, hid.ErrNoDeviceSelected)
}

type busDevice struct {
	dev    Peripheral
	id     uint32
	info   hid.DeviceInfo
	ctx    context.Context
	cancel context.CancelFunc
}
