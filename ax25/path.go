package ax25

import "fmt"

// MaxDigipeaters is the largest number of digipeater addresses AX.25 allows
// in a single packet's address field.
const MaxDigipeaters = 8

// Hop is one entry of a digipeater Path: a call sign plus whether the
// decoder observed its has-been-repeated marker set.
type Hop struct {
	Call     Call
	Repeated bool
}

// Path is an ordered sequence of 0..MaxDigipeaters digipeater hops.
type Path []Hop

// NewPath builds a Path from plain call signs, none of which are marked
// repeated; used when constructing an outbound packet.
func NewPath(calls ...Call) (Path, error) {
	if len(calls) > MaxDigipeaters {
		return nil, fmt.Errorf("ax25: digipeater path too long: %d > %d", len(calls), MaxDigipeaters)
	}
	p := make(Path, len(calls))
	for i, c := range calls {
		p[i] = Hop{Call: c}
	}
	return p, nil
}

// String renders the path as a comma-separated list, marking repeated hops
// with a trailing '*' as in TNC-2 monitor format.
func (p Path) String() string {
	s := ""
	for i, h := range p {
		if i > 0 {
			s += ","
		}
		s += h.Call.String()
		if h.Repeated {
			s += "*"
		}
	}
	return s
}
