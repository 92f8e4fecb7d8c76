package registry

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// OctetRange bounds one octet of generated addresses, inclusive.
type OctetRange struct {
	Min uint8 `toml:"min" yaml:"min"`
	Max uint8 `toml:"max" yaml:"max"`
}

// AddressSpace is the set of addresses AllocateFreeAddress draws from.
type AddressSpace struct {
	Octets [4]OctetRange `toml:"octets" yaml:"octets"`
}

// FullIPv4Space spans 0..255 on every octet.
func FullIPv4Space() AddressSpace {
	full := OctetRange{Min: 0, Max: 255}
	return AddressSpace{Octets: [4]OctetRange{full, full, full, full}}
}

func (s AddressSpace) Validate() error {
	for i, o := range s.Octets {
		if o.Min > o.Max {
			return fmt.Errorf("registry: octet %d range %d..%d is empty", i, o.Min, o.Max)
		}
	}
	return nil
}

// Size is the number of distinct addresses in the space.
func (s AddressSpace) Size() uint64 {
	size := uint64(1)
	for _, o := range s.Octets {
		size *= uint64(o.Max) - uint64(o.Min) + 1
	}
	return size
}

// At returns the address with index i in [0, Size()), octet 3 varying fastest.
func (s AddressSpace) At(i uint64) string {
	var parts [4]string
	for k := 3; k >= 0; k-- {
		o := s.Octets[k]
		width := uint64(o.Max) - uint64(o.Min) + 1
		parts[k] = strconv.FormatUint(uint64(o.Min)+i%width, 10)
		i /= width
	}
	return strings.Join(parts[:], ".")
}

func (s AddressSpace) random(r *rand.Rand) string {
	var parts [4]string
	for k, o := range s.Octets {
		width := int(o.Max) - int(o.Min) + 1
		parts[k] = strconv.Itoa(int(o.Min) + r.Intn(width))
	}
	return strings.Join(parts[:], ".")
}
