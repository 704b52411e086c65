// Package pii masks personal data in text that leaves the process.
package pii

import "regexp"

var (
	emailRe  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	card16Re = regexp.MustCompile(`\b\d{16}\b`)
)

// Masker replaces email addresses and 16-digit card numbers. A disabled
// Masker returns its input unchanged.
type Masker struct {
	enabled bool
}

func New(enabled bool) *Masker {
	return &Masker{enabled: enabled}
}

func (m *Masker) Enabled() bool {
	return m != nil && m.enabled
}

// Mask returns s with personal data replaced by placeholders.
func (m *Masker) Mask(s string) string {
	if !m.Enabled() || s == "" {
		return s
	}
	s = emailRe.ReplaceAllString(s, "[EMAIL]")
	return card16Re.ReplaceAllString(s, "[CARD]")
}

// MaskValue masks strings and leaves every other value untouched.
func (m *Masker) MaskValue(v any) any {
	if s, ok := v.(string); ok {
		return m.Mask(s)
	}
	return v
}

// Func returns Mask as a plain function, or nil when masking is disabled.
func (m *Masker) Func() func(string) string {
	if !m.Enabled() {
		return nil
	}
	return m.Mask
}
