package dispatch

import (
	"context"
	"strings"
)

// Target is the resolved recipient behind a job's target reference.
type Target struct {
	Reference string
	Name      string
	Phone     string
}

// TargetResolver looks up who a target reference points at. The second return
// is false when the reference resolves to nothing.
type TargetResolver interface {
	Resolve(ctx context.Context, reference string) (Target, bool, error)
}

// NormalizePhone strips formatting from a stored phone number and folds a
// leading local zero into the channel's default country code. The output is
// digits only; callers still validate length before sending.
func NormalizePhone(raw, defaultCountryCode string) string {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	out := digits.String()
	cc := strings.TrimLeft(strings.TrimSpace(defaultCountryCode), "+")
	if cc != "" && strings.HasPrefix(out, "0") {
		out = cc + out[1:]
	}

	return out
}
