// Package ipmath converts textual network addresses into comparable
// unsigned integers so that inclusive address ranges can be tested with
// plain arithmetic. IPv4, IPv6, and IPv4-mapped IPv6 forms are accepted;
// mapped addresses normalize to their IPv4 integer value so a v4 range
// matches dual-stack clients.
package ipmath

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/holiman/uint256"
)

// InvalidAddressError reports an address that could not be parsed.
type InvalidAddressError struct {
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid network address %q", e.Address)
}

// ToInteger parses the supplied address and returns its big-endian integer
// value. IPv4 addresses occupy the low 32 bits; IPv6 addresses occupy the
// low 128 bits. The function is pure and never panics on malformed input.
func ToInteger(address string) (*uint256.Int, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return nil, &InvalidAddressError{Address: address}
	}
	addr = addr.Unmap()
	if addr.Is4() {
		octets := addr.As4()
		return new(uint256.Int).SetBytes(octets[:]), nil
	}
	words := addr.As16()
	return new(uint256.Int).SetBytes(words[:]), nil
}

// FromInteger renders an integer produced by ToInteger back into textual
// form. Values that fit in 32 bits render as dotted IPv4; anything larger
// renders as canonical IPv6. Used for administrative listings only.
func FromInteger(value *uint256.Int) string {
	if value == nil {
		return ""
	}
	if value.IsUint64() && value.Uint64() <= 0xffffffff {
		v := uint32(value.Uint64())
		addr := netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
		return addr.String()
	}
	raw := value.Bytes32()
	var words [16]byte
	copy(words[:], raw[16:])
	return netip.AddrFrom16(words).String()
}

// Contains reports whether value lies in the inclusive range [from, to].
func Contains(from, to, value *uint256.Int) bool {
	if from == nil || to == nil || value == nil {
		return false
	}
	return from.Cmp(value) <= 0 && value.Cmp(to) <= 0
}
