// Package listener opens the server's listening socket from an address
// string. Besides TCP it accepts Windows named pipes and Hyper-V sockets:
//
//	127.0.0.1:8080            TCP
//	tcp::8443                 TCP, explicit
//	pipe:\\.\pipe\sso         named pipe (Windows)
//	pipe:sso                  same, short form
//	hvsock:<service-guid>     Hyper-V socket, any VM (Windows)
//	hvsock:<vm-guid>/<service-guid>
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

const (
	NetworkTCP    = "tcp"
	NetworkPipe   = "pipe"
	NetworkHvsock = "hvsock"

	pipePrefix = `\\.\pipe\`
)

// ErrNotSupported is returned for pipe and hvsock addresses outside Windows.
var ErrNotSupported = errors.New("listener: network only supported on windows")

// Address is a parsed listen address.
type Address struct {
	Network string
	// Target is the TCP host:port or the full pipe path.
	Target string
	// VMID is uuid.Nil to accept connections from any partition.
	VMID      uuid.UUID
	ServiceID uuid.UUID
}

func (a Address) String() string {
	switch a.Network {
	case NetworkHvsock:
		if a.VMID == uuid.Nil {
			return NetworkHvsock + ":" + a.ServiceID.String()
		}
		return NetworkHvsock + ":" + a.VMID.String() + "/" + a.ServiceID.String()
	case NetworkPipe:
		return NetworkPipe + ":" + a.Target
	}
	return a.Target
}

// Parse parses a listen address.
func Parse(s string) (Address, error) {
	network, rest, found := strings.Cut(s, ":")
	if !found {
		return Address{}, fmt.Errorf("listener: invalid address %q", s)
	}
	switch strings.ToLower(network) {
	case NetworkPipe:
		if rest == "" {
			return Address{}, fmt.Errorf("listener: empty pipe name in %q", s)
		}
		if !strings.HasPrefix(rest, pipePrefix) {
			rest = pipePrefix + rest
		}
		return Address{Network: NetworkPipe, Target: rest}, nil
	case NetworkHvsock:
		return parseHvsock(rest)
	case NetworkTCP:
		s = rest
	}
	if _, _, err := net.SplitHostPort(s); err != nil {
		return Address{}, fmt.Errorf("listener: invalid tcp address %q: %w", s, err)
	}
	return Address{Network: NetworkTCP, Target: s}, nil
}

func parseHvsock(s string) (Address, error) {
	addr := Address{Network: NetworkHvsock}
	vm, svc, found := strings.Cut(s, "/")
	if !found {
		vm, svc = "", s
	}
	var err error
	if vm != "" {
		if addr.VMID, err = uuid.Parse(vm); err != nil {
			return Address{}, fmt.Errorf("listener: invalid hvsock VM id %q: %w", vm, err)
		}
	}
	if addr.ServiceID, err = uuid.Parse(svc); err != nil {
		return Address{}, fmt.Errorf("listener: invalid hvsock service id %q: %w", svc, err)
	}
	return addr, nil
}

// Listen parses s and opens a listener on it.
func Listen(ctx context.Context, s string) (net.Listener, Address, error) {
	addr, err := Parse(s)
	if err != nil {
		return nil, Address{}, err
	}
	var l net.Listener
	switch addr.Network {
	case NetworkTCP:
		var lc net.ListenConfig
		l, err = lc.Listen(ctx, "tcp", addr.Target)
	case NetworkPipe:
		l, err = listenPipe(addr.Target)
	case NetworkHvsock:
		l, err = listenHvsock(addr.VMID, addr.ServiceID)
	}
	if err != nil {
		return nil, addr, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return l, addr, nil
}
