package transport

import (
	"context"
	"net"
	"os"
)

// unixListener is a UNIX domain socket listener.
type unixListener struct {
	ln   net.Listener
	path string
}

// ListenUnix binds a UNIX domain socket listener at path. Any stale
// socket file left behind by a previous process is removed first, the
// way a restarted daemon reclaims its own socket path.
func ListenUnix(path string) (Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "unix", path)
	if err != nil {
		return nil, err
	}
	return &unixListener{ln: ln, path: path}, nil
}

func (l *unixListener) Accept(ctx context.Context) (Conn, error) {
	return acceptWithContext(ctx, l.ln)
}

func (l *unixListener) Addr() net.Addr { return l.ln.Addr() }

func (l *unixListener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

// DialUnix opens a connection to a UNIX domain socket at path.
func DialUnix(ctx context.Context, path string) (Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}
