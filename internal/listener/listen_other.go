//go:build !windows

package listener

import (
	"net"

	"github.com/google/uuid"
)

func listenPipe(string) (net.Listener, error) {
	return nil, ErrNotSupported
}

func listenHvsock(uuid.UUID, uuid.UUID) (net.Listener, error) {
	return nil, ErrNotSupported
}
