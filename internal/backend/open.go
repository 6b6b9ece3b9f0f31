package backend

import (
	"strconv"
	"strings"

	"sc64/internal/sc64err"
)

// OpenPort opens a local device from a port descriptor, the two forms
// spec §6 defines: `serial://PATH` or `ftdi://{s|i}:VID:PID:{SERIAL|INDEX}`.
func OpenPort(descriptor string) (Backend, error) {
	switch {
	case strings.HasPrefix(descriptor, "serial://"):
		return OpenSerial(strings.TrimPrefix(descriptor, "serial://"))
	case strings.HasPrefix(descriptor, "ftdi://"):
		return openFTDIDescriptor(strings.TrimPrefix(descriptor, "ftdi://"))
	default:
		return nil, sc64err.New(sc64err.Io, "port descriptor must start with serial:// or ftdi://")
	}
}

// openFTDIDescriptor parses "{s|i}:VID:PID:{SERIAL|INDEX}". VID/PID are
// accepted for descriptor-format compatibility but not used to filter —
// SC64's FTDI interface is identified by a single fixed VID:PID pair
// (vendorID/productID) regardless of what the descriptor names.
func openFTDIDescriptor(body string) (Backend, error) {
	fields := strings.Split(body, ":")
	if len(fields) != 4 {
		return nil, sc64err.New(sc64err.Io, "ftdi port descriptor must be {s|i}:VID:PID:{SERIAL|INDEX}")
	}
	mode, _, _, selector := fields[0], fields[1], fields[2], fields[3]

	switch mode {
	case "i":
		index, err := strconv.Atoi(selector)
		if err != nil {
			return nil, sc64err.New(sc64err.Io, "ftdi index selector must be an integer")
		}
		return OpenFTDI(index)
	case "s":
		devices, err := ListFTDI()
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if strings.HasPrefix(d.SerialNumber, selector) {
				return OpenFTDI(d.Index)
			}
		}
		return nil, sc64err.New(sc64err.Io, "no FTDI device matched serial number "+selector)
	default:
		return nil, sc64err.New(sc64err.Io, "ftdi port descriptor mode must be 's' or 'i'")
	}
}
