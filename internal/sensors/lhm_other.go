//go:build !windows

package sensors

import (
	"context"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
)

// LHMSource is only backed by a real monitor on Windows.
type LHMSource struct{}

func NewLHMSource() *LHMSource {
	return &LHMSource{}
}

func (*LHMSource) Probe(context.Context) bool {
	return false
}

func (*LHMSource) Available() bool {
	return false
}

func (*LHMSource) Query(context.Context) (Reading, error) {
	return Reading{}, errors.New().New(ErrUnavailable)
}
