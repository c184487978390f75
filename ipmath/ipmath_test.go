package ipmath

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestToIntegerIPv4(t *testing.T) {
	value, err := ToInteger("192.168.1.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := value.Uint64(); got != 3232235777 {
		t.Fatalf("expected 3232235777, got %d", got)
	}
}

func TestToIntegerMappedEqualsPlainIPv4(t *testing.T) {
	plain, err := ToInteger("192.168.1.100")
	if err != nil {
		t.Fatalf("plain parse: %v", err)
	}
	mapped, err := ToInteger("::ffff:192.168.1.100")
	if err != nil {
		t.Fatalf("mapped parse: %v", err)
	}
	if plain.Cmp(mapped) != 0 {
		t.Fatalf("mapped form should normalize to the v4 value: %s vs %s", plain, mapped)
	}
}

func TestToIntegerIPv6(t *testing.T) {
	value, err := ToInteger("::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Uint64() != 1 || !value.IsUint64() {
		t.Fatalf("expected loopback to equal 1, got %s", value)
	}
}

func TestToIntegerRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not-an-address", "999.1.2.3", "192.168.1", "1.2.3.4.5"} {
		if _, err := ToInteger(input); err == nil {
			t.Fatalf("expected error for %q", input)
		} else {
			var invalid *InvalidAddressError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidAddressError for %q, got %T", input, err)
			}
		}
	}
}

func TestFromIntegerRoundTrip(t *testing.T) {
	for _, address := range []string{"10.0.0.1", "255.255.255.255", "2001:db8::1"} {
		value, err := ToInteger(address)
		if err != nil {
			t.Fatalf("parse %q: %v", address, err)
		}
		if got := FromInteger(value); got != address {
			t.Fatalf("round trip %q: got %q", address, got)
		}
	}
}

func TestContainsInclusiveBounds(t *testing.T) {
	from := uint256.NewInt(3232235777)
	to := uint256.NewInt(3232236031)
	for _, tc := range []struct {
		value uint64
		want  bool
	}{
		{3232235776, false},
		{3232235777, true},
		{3232235900, true},
		{3232236031, true},
		{3232236032, false},
	} {
		if got := Contains(from, to, uint256.NewInt(tc.value)); got != tc.want {
			t.Fatalf("Contains(%d) = %v, want %v", tc.value, got, tc.want)
		}
	}
}
