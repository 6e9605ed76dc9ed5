package ax25

import "testing"

func TestNewCallValid(t *testing.T) {
	tests := []struct {
		in   string
		base string
		ssid int
	}{
		{"n0call", "N0CALL", 0},
		{"N0CALL-5", "N0CALL", 5},
		{"w1aw-15", "W1AW", 15},
		{"WIDE2-2", "WIDE2", 2},
		{"K1AA", "K1AA", 0},
	}

	for _, tt := range tests {
		c, err := NewCall(tt.in)
		if err != nil {
			t.Errorf("NewCall(%q) returned error: %v", tt.in, err)
			continue
		}
		if c.Base != tt.base || c.SSID != tt.ssid {
			t.Errorf("NewCall(%q) = %+v, want {%s %d}", tt.in, c, tt.base, tt.ssid)
		}
	}
}

func TestNewCallInvalid(t *testing.T) {
	tests := []string{
		"",
		"TOOLONGCALL",
		"N0CALL-16",
		"N0CALL-",
		"N0$ALL",
		"N0CALL-1-2",
	}

	for _, in := range tests {
		if _, err := NewCall(in); err == nil {
			t.Errorf("NewCall(%q) expected error, got none", in)
		}
	}
}

func TestCallString(t *testing.T) {
	if s := MustCall("n0call").String(); s != "N0CALL" {
		t.Errorf("String() = %q, want N0CALL", s)
	}
	if s := MustCall("n0call-7").String(); s != "N0CALL-7" {
		t.Errorf("String() = %q, want N0CALL-7", s)
	}
}

func TestCallEqual(t *testing.T) {
	a := MustCall("n0call-1")
	b := MustCall("N0CALL-1")
	c := MustCall("N0CALL-2")

	if !a.Equal(b) {
		t.Errorf("%v and %v should be equal", a, b)
	}
	if a.Equal(c) {
		t.Errorf("%v and %v should not be equal", a, c)
	}
}
