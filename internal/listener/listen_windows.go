//go:build windows

package listener

import (
	"net"

	"github.com/Microsoft/go-winio"
	"github.com/Microsoft/go-winio/pkg/guid"
	"github.com/google/uuid"
)

// pipeSDDL grants authenticated users read/write and full control to
// SYSTEM and administrators.
const pipeSDDL = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;AU)"

func listenPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: pipeSDDL,
		InputBufferSize:    64 << 10,
		OutputBufferSize:   64 << 10,
	})
}

func listenHvsock(vmID, serviceID uuid.UUID) (net.Listener, error) {
	return winio.ListenHvsock(&winio.HvsockAddr{
		VMID:      uuidToGUID(vmID),
		ServiceID: uuidToGUID(serviceID),
	})
}

// uuidToGUID converts RFC 4122 big-endian bytes to a winio GUID.
func uuidToGUID(u uuid.UUID) guid.GUID {
	var arr [16]byte
	copy(arr[:], u[:])
	return guid.FromArray(arr)
}
