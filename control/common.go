package control

// BoolToFloat encodes a flag as a CAN signal value.
func BoolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Sign returns -1, 0 or 1 following the sign of v.
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
