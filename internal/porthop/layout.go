package porthop

// A segment is the run of decimal digits describing one door:
//
//	proto | flags | port
//	  1   |   1   |  5
//
// The proto and flags digits are left out when the knock fixes them, so a
// segment is 7, 6 or 5 digits wide.
type segmentField int

const (
	fieldProto segmentField = iota
	fieldFlags
	fieldPort
)

type fieldSpec struct {
	field segmentField
	width int
}

var segmentLayout = []fieldSpec{
	{field: fieldProto, width: 1},
	{field: fieldFlags, width: 1},
	{field: fieldPort, width: 5},
}

// layoutFor returns the enabled fields in order and the segment width.
func layoutFor(p Params) ([]fieldSpec, int) {
	fields := make([]fieldSpec, 0, len(segmentLayout))
	width := 0
	for _, f := range segmentLayout {
		switch {
		case f.field == fieldProto && !p.dynamicProto():
			continue
		case f.field == fieldFlags && !p.dynamicFlags():
			continue
		}
		fields = append(fields, f)
		width += f.width
	}
	return fields, width
}
