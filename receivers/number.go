package receivers

import (
	"strconv"
	"strings"
)

// OptionalNumber is a settings field that accepts a bare number or a quoted
// numeric string, the two spellings configuration authors use for values
// like QoS.
type OptionalNumber string

func (o OptionalNumber) String() string { return string(o) }

// Int64 parses the value, treating absence as zero.
func (o OptionalNumber) Int64() (int64, error) {
	if o == "" {
		return 0, nil
	}
	return strconv.ParseInt(string(o), 10, 64)
}

func (o *OptionalNumber) UnmarshalJSON(b []byte) error {
	*o = OptionalNumber(strings.Trim(string(b), `"`))
	return nil
}
