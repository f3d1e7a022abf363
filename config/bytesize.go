package config

import (
	"fmt"

	"github.com/alecthomas/units"
)

// ByteSize is a byte quantity configuration field. It accepts a plain
// number of bytes or a unit-suffixed string, IEC ("64MiB") or SI ("10MB").
type ByteSize int64

func (b ByteSize) Int64() int64 { return int64(b) }

// Megabytes converts for sinks sized in whole megabytes. Anything below
// one megabyte rounds up so a small cap still rotates.
func (b ByteSize) Megabytes() int {
	mb := int(int64(b) / int64(units.MiB))
	if mb == 0 && b > 0 {
		return 1
	}
	return mb
}

func (b ByteSize) String() string { return units.Base2Bytes(b).String() }

func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int64
	if err := unmarshal(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := units.ParseStrictBytes(s)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = ByteSize(v)
	return nil
}
