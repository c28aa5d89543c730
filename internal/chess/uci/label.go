package uci

const (
	LabelGood       = "Good move"
	LabelInaccuracy = "Inaccuracy"
	LabelMistake    = "Mistake"
	LabelBlunder    = "Blunder"
	LabelUnknown    = "Unknown"
)

// Label grades an evaluation by its magnitude in centipawns. nil means no evaluation yet.
func Label(cp *int) string {
	if cp == nil {
		return LabelUnknown
	}
	v := *cp
	if v < 0 {
		v = -v
	}
	switch {
	case v < 50:
		return LabelGood
	case v < 150:
		return LabelInaccuracy
	case v < 300:
		return LabelMistake
	default:
		return LabelBlunder
	}
}
