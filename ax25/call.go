// Package ax25 implements the AX.25 link-layer addressing and packet codec
// used by an AGWPE TNC: call signs, digipeater paths, and the 7-byte wire
// address format plus control/PID/info encoding defined by AX.25 v2.2.
package ax25

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var callRegexp = regexp.MustCompile(`^([A-Z0-9/]{1,6})(?:-([0-9]{1,2}))?$`)

// Call is a canonicalized AX.25 call sign: up to six alphanumerics or '/',
// optionally suffixed with a numeric SSID in [0,15]. The base is always
// upper case on construction; no lower case call sign is ever produced.
type Call struct {
	Base string
	SSID int
}

// NewCall validates and canonicalizes s into a Call. The base must consist
// of 1-6 characters from [A-Z0-9/] (case-insensitive on input, upper-cased
// on output) and the optional SSID, if present, must be in [0,15].
func NewCall(s string) (Call, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	m := callRegexp.FindStringSubmatch(up)
	if m == nil {
		return Call{}, fmt.Errorf("ax25: invalid call sign %q", s)
	}

	ssid := 0
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 0 || n > 15 {
			return Call{}, fmt.Errorf("ax25: invalid SSID in call sign %q", s)
		}
		ssid = n
	}

	return Call{Base: m[1], SSID: ssid}, nil
}

// MustCall is like NewCall but panics on error; for use with constants known
// to be valid at compile time, such as in tests and examples.
func MustCall(s string) Call {
	c, err := NewCall(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the canonical "BASE-SSID" form, omitting "-0".
func (c Call) String() string {
	if c.SSID == 0 {
		return c.Base
	}
	return fmt.Sprintf("%s-%d", c.Base, c.SSID)
}

// Equal compares call signs case-insensitively on the base (already upper
// case if constructed via NewCall) and exactly on the SSID.
func (c Call) Equal(o Call) bool {
	return strings.EqualFold(c.Base, o.Base) && c.SSID == o.SSID
}

// IsZero reports whether c is the zero value, i.e. was never parsed.
func (c Call) IsZero() bool {
	return c.Base == "" && c.SSID == 0
}
