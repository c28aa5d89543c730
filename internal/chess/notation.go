package chess

import "strings"

// Comparable is the form used to match a played move against a lesson step.
type Comparable struct {
	CoordinatePair string
	Algebraic      string
}

func ToComparable(r MoveResult) Comparable {
	return Comparable{
		CoordinatePair: strings.ToLower(r.From + r.To),
		Algebraic:      r.SAN,
	}
}

// NormalizeSAN drops check, mate and annotation marks so "Qxf7#" and "Qxf7" compare equal.
func NormalizeSAN(san string) string {
	s := strings.TrimSpace(san)
	return strings.TrimRight(s, "+#!?")
}

// SameAlgebraic compares two SAN strings ignoring check and annotation suffixes.
func SameAlgebraic(a, b string) bool {
	na, nb := NormalizeSAN(a), NormalizeSAN(b)
	return na != "" && na == nb
}
