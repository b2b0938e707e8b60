//go:build !linux

package native

import "errors"

func newOverlayDriver() (Driver, error) {
	return nil, errors.New("overlay backend requires linux")
}
