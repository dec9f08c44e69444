package gbnapi

import "github.com/pkg/errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransport       = errors.New("datagram transport failed")
	ErrClosed          = errors.New("entity closed")
)

// transportError tags a channel failure so callers can match ErrTransport
// with errors.Cause while the message keeps the underlying reason.
func transportError(err error) error {
	return errors.Wrapf(ErrTransport, "%v", err)
}
