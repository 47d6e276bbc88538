package transport

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR on the listening socket before bind,
// the way hashicorp-consul's core/dnsserver/listen_go111.go sets
// SO_REUSEPORT through the same net.ListenConfig.Control hook, here so a
// session listener can rebind to the same address immediately after a
// restart instead of sitting in TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// tcpListener is a plain, unencrypted TCP listener.
type tcpListener struct {
	ln net.Listener
}

// ListenTCP binds a TCP listener at addr (e.g. ":4455").
func ListenTCP(addr string) (Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	return acceptWithContext(ctx, l.ln)
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tcpListener) Close() error   { return l.ln.Close() }

// DialTCP opens a plain TCP connection to addr.
func DialTCP(ctx context.Context, addr string) (Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
