package msghandler

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/credentials"
)

// peerCredAuthInfo carries the Unix peer credential of an accepted
// connection through gRPC's credentials.AuthInfo channel.
type peerCredAuthInfo struct {
	UID uint32
	GID uint32
	PID int32
}

func (peerCredAuthInfo) AuthType() string { return "unix-peercred" }

// peerCredCredentials is a grpc credentials.TransportCredentials that
// performs no handshake (the callback listener is a local Unix
// socket, not a network boundary) but extracts SO_PEERCRED from the
// accepted connection so RPC handlers can authenticate the sender's
// uid per spec §4.6's security rule.
type peerCredCredentials struct{}

func newPeerCredCredentials() credentials.TransportCredentials {
	return peerCredCredentials{}
}

func (peerCredCredentials) ClientHandshake(ctx context.Context, _ string, conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	return conn, peerCredAuthInfo{}, nil
}

func (peerCredCredentials) ServerHandshake(conn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, nil, fmt.Errorf("msghandler: callback listener requires a Unix socket, got %T", conn)
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, nil, fmt.Errorf("msghandler: syscall conn: %w", err)
	}

	var ucred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return nil, nil, fmt.Errorf("msghandler: control: %w", ctrlErr)
	}
	if sockErr != nil {
		return nil, nil, fmt.Errorf("msghandler: SO_PEERCRED: %w", sockErr)
	}

	return conn, peerCredAuthInfo{UID: ucred.Uid, GID: ucred.Gid, PID: ucred.Pid}, nil
}

func (peerCredCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: "unix-peercred"}
}

func (c peerCredCredentials) Clone() credentials.TransportCredentials { return c }

func (peerCredCredentials) OverrideServerName(string) error { return nil }
