// Package hidraw is the native HID backend built on the Linux hidraw driver.
// Devices are discovered through sysfs and opened as /dev/hidrawN character
// devices. Reports are assumed to be numbered: the first byte of every
// report on the wire is its report id.
package hidraw

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JJeremyXu/licence-tool/hid"
)

const (
	defaultSysfsRoot    = "/sys/class/hidraw"
	defaultDevRoot      = "/dev"
	defaultPollInterval = 100 * time.Millisecond
)

// Config locates the hidraw nodes.
type Config struct {
	// ReportSize is the full report size, report id included, used for
	// devices whose report descriptor cannot be read.
	ReportSize   int
	SysfsRoot    string
	DevRoot      string
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReportSize <= 0 {
		c.ReportSize = hid.DefaultReportSize
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = defaultSysfsRoot
	}
	if c.DevRoot == "" {
		c.DevRoot = defaultDevRoot
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Transport opens hidraw devices matching a filter.
type Transport struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a hidraw transport. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{cfg: cfg.withDefaults(), logger: logger.With("backend", "hidraw")}
}

// uevent holds the HID fields of a sysfs uevent file.
type uevent struct {
	bus       uint16
	vendorID  uint16
	productID uint16
	name      string
	uniq      string
}

// parseUevent reads KEY=VALUE lines. HID_ID has the form
// BUS:VENDOR:PRODUCT in hex, for example 0003:00000483:00005750.
func parseUevent(r io.Reader) (uevent, error) {
	var ev uevent
	var haveID bool
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "HID_ID":
			parts := strings.Split(value, ":")
			if len(parts) != 3 {
				return ev, fmt.Errorf("hidraw: malformed HID_ID %q", value)
			}
			var nums [3]uint64
			for i, p := range parts {
				n, err := strconv.ParseUint(p, 16, 32)
				if err != nil {
					return ev, fmt.Errorf("hidraw: malformed HID_ID %q: %w", value, err)
				}
				nums[i] = n
			}
			ev.bus, ev.vendorID, ev.productID = uint16(nums[0]), uint16(nums[1]), uint16(nums[2])
			haveID = true
		case "HID_NAME":
			ev.name = value
		case "HID_UNIQ":
			ev.uniq = value
		}
	}
	if err := sc.Err(); err != nil {
		return ev, err
	}
	if !haveID {
		return ev, fmt.Errorf("hidraw: uevent without HID_ID")
	}
	return ev, nil
}

// device is an enumerated hidraw node and the reports it declares.
type device struct {
	info   hid.DeviceInfo
	layout reportLayout
}

// enumerate lists the hidraw nodes described under the sysfs root, sorted by
// node name. Nodes whose uevent cannot be read are skipped. Report sizes come
// from the node's report descriptor when sysfs exposes it.
func (t *Transport) enumerate() ([]device, error) {
	entries, err := os.ReadDir(t.cfg.SysfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hidraw: enumerate: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "hidraw") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return nodeIndex(names[i]) < nodeIndex(names[j]) })

	var out []device
	for _, name := range names {
		f, err := os.Open(filepath.Join(t.cfg.SysfsRoot, name, "device", "uevent"))
		if err != nil {
			t.logger.Debug("Skipping node", "node", name, "error", err)
			continue
		}
		ev, err := parseUevent(f)
		_ = f.Close()
		if err != nil {
			t.logger.Debug("Skipping node", "node", name, "error", err)
			continue
		}
		d := device{info: hid.DeviceInfo{
			Path:      filepath.Join(t.cfg.DevRoot, name),
			VendorID:  ev.vendorID,
			ProductID: ev.productID,
			Product:   ev.name,
			Serial:    ev.uniq,
		}}
		if desc, err := os.ReadFile(filepath.Join(t.cfg.SysfsRoot, name, "device", "report_descriptor")); err == nil {
			d.layout = parseReportDescriptor(desc)
		}
		d.info.ReportSize = t.reportSize(d.layout)
		out = append(out, d)
	}
	return out, nil
}

// reportSize is the largest report the layout declares, or the configured
// size when the layout is empty.
func (t *Transport) reportSize(l reportLayout) int {
	if n := l.maxReportSize(); n > 0 {
		return n
	}
	return t.cfg.ReportSize
}

func nodeIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "hidraw"))
	if err != nil {
		return -1
	}
	return n
}

// pick returns the first device matching filter, with the filter's report
// size override applied.
func pick(devices []device, filter hid.Filter) (device, error) {
	for _, d := range devices {
		if filter.Match(d.info.VendorID, d.info.ProductID) {
			if filter.ReportSize > 0 {
				d.info.ReportSize = filter.ReportSize
			}
			return d, nil
		}
	}
	return device{}, fmt.Errorf("hidraw: %s: %w", filter, hid.ErrNoDeviceSelected)
}

// writeSize is the wire size of an outbound report: the output report's
// declared length when known, otherwise the connection's report size.
func writeSize(info hid.DeviceInfo, l reportLayout, id hid.ReportID) int {
	if n := l.outputSize(uint8(id)); n > 0 && n <= info.ReportSize {
		return n
	}
	return info.ReportSize
}
