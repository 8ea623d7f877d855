package domain

import (
	"fmt"
	"strings"
)

// Side is the half of a binary market a trade buys into.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide accepts "YES"/"NO" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidSide, s)
}

// Valid reports whether s is one of the two sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// UnmarshalText rejects anything other than YES or NO.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Outcome is the winning side of a resolved market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome accepts "YES"/"NO" in any case.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidOutcome, s)
}

// Valid reports whether o is one of the two outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// Side returns the side whose shares pay out under o.
func (o Outcome) Side() Side {
	return Side(o)
}

// UnmarshalText rejects anything other than YES or NO.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
