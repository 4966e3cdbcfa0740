//go:build windows

package sensors

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"github.com/StackExchange/wmi"
)

// queryWMI runs a WMI query bounded by ctx. The wmi package has no
// cancellation, so an abandoned query finishes in the background and holds
// busy until then.
func queryWMI[T any](ctx context.Context, busy *atomic.Bool, namespace, query string) ([]T, error) {
	var rows []T

	err := boundedCall(ctx, busy, func() error {
		var (
			res []T
			err error
		)
		if namespace == "" {
			err = wmi.Query(query, &res)
		} else {
			err = wmi.QueryNamespace(query, &res, namespace)
		}
		if err != nil {
			return errors.New().Wrap(ErrQueryFailed, err)
		}
		rows = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rows, nil
}
