package nmrp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseMAC parses a colon-separated hardware address of the form
// "aa:bb:cc:dd:ee:ff".
//
// net.ParseMAC is deliberately not used here: it also accepts dash
// and dot separators and 8- or 20-byte EUI forms, none of which can
// address an NMRP device.
func ParseMAC(s string) (net.HardwareAddr, error) {
	groups := strings.Split(s, ":")
	if len(groups) != 6 {
		return nil, fmt.Errorf("invalid MAC address %q", s)
	}
	hw := make(net.HardwareAddr, 6)
	for i, g := range groups {
		if len(g) == 0 || len(g) > 2 {
			return nil, fmt.Errorf("invalid MAC address %q", s)
		}
		v, err := strconv.ParseUint(g, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid MAC address %q", s)
		}
		hw[i] = byte(v)
	}
	return hw, nil
}
