package agw

import (
	"fmt"
	"regexp"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/n0call/agwgo/ax25"
)

// ProtocolError reports a malformed frame, malformed packet, receive after
// local close, or receive-buffer overflow: always surfaced on the specific
// stream that saw it, per spec.md §7's error taxonomy.
type ProtocolError struct {
	Stream string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("agw: protocol error on %s: %v", e.Stream, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

var callSignPattern = regexp.MustCompile(`^[A-Z0-9]{1,6}(-([0-9]|1[0-5]))?$`)

// ValidateCallSign checks a single call sign: a base of one to six upper-case
// letters or digits, optionally followed by '-' and an SSID in [0,15].
func ValidateCallSign(call string) error {
	if !callSignPattern.MatchString(call) {
		return fmt.Errorf("agw: invalid call sign %q", call)
	}
	return nil
}

// ValidateCallSigns checks every entry in calls, aggregating every failure
// into a single *multierror.Error rather than stopping at the first bad
// entry, per SPEC_FULL.md §4.14.
func ValidateCallSigns(calls []string) error {
	var result *multierror.Error
	for _, c := range calls {
		if err := ValidateCallSign(c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ValidatePath checks a via-path's digipeater count against AX.25's limit.
func ValidatePath(path ax25.Path) error {
	if len(path) > 8 {
		return fmt.Errorf("agw: via path has %d digipeaters, max 8", len(path))
	}
	return nil
}

// mapDialError wraps a TCP dial failure so callers can test it with
// errors.Is against the syscall.Errno taxonomy spec.md §7 names for
// transport errors (ECONNREFUSED, ETIMEDOUT).
func mapDialError(err error) error {
	if err == nil {
		return nil
	}
	if sysErr, ok := underlyingErrno(err); ok {
		return fmt.Errorf("%w", sysErr)
	}
	return err
}

func underlyingErrno(err error) (syscall.Errno, bool) {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok && t.Timeout() {
		return syscall.ETIMEDOUT, true
	}

	var errno syscall.Errno
	for u := err; u != nil; {
		if e, ok := u.(syscall.Errno); ok {
			errno = e
			return errno, true
		}
		unwrapper, ok := u.(interface{ Unwrap() error })
		if !ok {
			break
		}
		u = unwrapper.Unwrap()
	}
	return 0, false
}

// errNoPorts wraps ENOENT for the "TNC has no ports" topology failure.
func errNoPorts() error {
	return fmt.Errorf("agw: TNC reports no ports: %w", syscall.ENOENT)
}

// errPortListTimeout wraps ETIMEDOUT for a 'G' query that never answers.
func errPortListTimeout() error {
	return fmt.Errorf("agw: timed out waiting for port list: %w", syscall.ETIMEDOUT)
}

// errRegistrationRejected wraps EACCES for an 'X' reply with payload byte 0.
func errRegistrationRejected(call string, port byte) error {
	return fmt.Errorf("agw: registration of %q on port %d rejected by TNC: %w", call, port, syscall.EACCES)
}
