package hidraw

// HID report descriptor item types and tags (HID 1.11, section 6.2.2).
const (
	itemMain   = 0
	itemGlobal = 1

	tagInput  = 0x8
	tagOutput = 0x9

	tagReportSize  = 0x7
	tagReportID    = 0x8
	tagReportCount = 0x9
	tagPush        = 0xa
	tagPop         = 0xb

	longItemPrefix = 0xfe
)

// reportLayout is the data length in bytes of every input and output
// report a descriptor declares, keyed by report id. Lengths exclude the id.
type reportLayout struct {
	input  map[uint8]int
	output map[uint8]int
}

func (l reportLayout) empty() bool { return len(l.input) == 0 && len(l.output) == 0 }

// maxReportSize is the largest input or output report on the wire, report
// id included, or 0 for an empty layout.
func (l reportLayout) maxReportSize() int {
	n := 0
	for _, m := range []map[uint8]int{l.input, l.output} {
		for _, size := range m {
			n = max(n, size)
		}
	}
	if n == 0 {
		return 0
	}
	return n + 1
}

// outputSize is the wire size of output report id, id included, or 0 when
// the descriptor does not declare it.
func (l reportLayout) outputSize(id uint8) int {
	if n, ok := l.output[id]; ok && n > 0 {
		return n + 1
	}
	return 0
}

type globalState struct {
	size  uint32
	count uint32
	id    uint8
}

// parseReportDescriptor sums Report Size x Report Count of every Input and
// Output main item per report id. A truncated descriptor yields what was
// parsed up to the cut.
func parseReportDescriptor(desc []byte) reportLayout {
	var g globalState
	var stack []globalState
	bits := map[[2]uint8]uint32{}

	for i := 0; i < len(desc); {
		prefix := desc[i]
		if prefix == longItemPrefix {
			if i+1 >= len(desc) {
				break
			}
			i += 3 + int(desc[i+1])
			continue
		}
		n := int(prefix & 0x03)
		if n == 3 {
			n = 4
		}
		if i+1+n > len(desc) {
			break
		}
		var v uint32
		for j := 0; j < n; j++ {
			v |= uint32(desc[i+1+j]) << (8 * j)
		}
		i += 1 + n

		typ, tag := (prefix>>2)&0x03, prefix>>4
		switch typ {
		case itemGlobal:
			switch tag {
			case tagReportSize:
				g.size = v
			case tagReportID:
				g.id = uint8(v)
			case tagReportCount:
				g.count = v
			case tagPush:
				stack = append(stack, g)
			case tagPop:
				if len(stack) > 0 {
					g = stack[len(stack)-1]
					stack = stack[:len(stack)-1]
				}
			}
		case itemMain:
			if tag == tagInput || tag == tagOutput {
				bits[[2]uint8{tag, g.id}] += g.size * g.count
			}
		}
	}

	l := reportLayout{input: map[uint8]int{}, output: map[uint8]int{}}
	for k, b := range bits {
		size := int((b + 7) / 8)
		if k[0] == tagInput {
			l.input[k[1]] = size
		} else {
			l.output[k[1]] = size
		}
	}
	return l
}
