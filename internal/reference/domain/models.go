package domain

// Currency describes one supported settlement currency for dashboard
// pickers. MinorUnit is the decimal exponent (2 for cents-style).
type Currency struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol,omitempty"`
	MinorUnit int16  `json:"minor_unit"`
}
