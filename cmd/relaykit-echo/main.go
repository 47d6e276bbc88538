// relaykit-echo is a minimal demo binary exercising the session layer
// end to end: a server mode that echoes back every stream message it
// receives, and a client mode that opens one session, sends a message,
// and waits for the echo.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/session/internal/logging"
	"github.com/relaykit/session/internal/registry"
	"github.com/relaykit/session/internal/session"
	"github.com/relaykit/session/internal/timer"
	"github.com/relaykit/session/internal/transport"
	"github.com/relaykit/session/internal/version"
	"github.com/relaykit/session/internal/wire"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	case "version":
		fmt.Printf("relaykit-echo %s (%s)\n", version.Version, version.Commit)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relaykit-echo server [-transport tcp|tls|unix] [-addr ADDR]")
	fmt.Fprintln(os.Stderr, "       relaykit-echo client [-transport tcp|tls|unix] [-addr ADDR] [-data TEXT]")
	fmt.Fprintln(os.Stderr, "       relaykit-echo version")
}

func listen(transportKind, addr string) (transport.Listener, error) {
	switch transportKind {
	case "tcp":
		return transport.ListenTCP(addr)
	case "tls":
		cert, err := transport.GenerateSelfSignedCert(addr)
		if err != nil {
			return nil, fmt.Errorf("generate cert: %w", err)
		}
		return transport.ListenTLS(addr, cert)
	case "unix":
		return transport.ListenUnix(addr)
	default:
		return nil, fmt.Errorf("unknown transport %q", transportKind)
	}
}

func dial(ctx context.Context, transportKind, addr string) (transport.Conn, error) {
	switch transportKind {
	case "tcp":
		return transport.DialTCP(ctx, addr)
	case "tls":
		return transport.DialTLS(ctx, addr)
	case "unix":
		return transport.DialUnix(ctx, addr)
	default:
		return nil, fmt.Errorf("unknown transport %q", transportKind)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	transportKind := fs.String("transport", "tcp", "tcp, tls, or unix")
	addr := fs.String("addr", ":4455", "address to listen on (socket path for unix)")
	fs.Parse(args)

	log := logging.New("relaykit-echo-server")

	reg := registry.New(registry.Config{
		Timer: timer.DefaultConfig(),
		Log:   log,
		Callbacks: session.Callbacks{
			OnSessionEvent: func(established bool, identifier uint64) {
				log.Info().Bool("established", established).Uint64("identifier", identifier).Msg("session event")
			},
			OnData: onEchoData,
			OnError: func(_ *session.Session, code wire.ErrorCode, message string) {
				log.Warn().Stringer("code", code).Str("message", message).Msg("session error")
			},
		},
	})

	ln, err := listen(*transportKind, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	reg.AddListener(1, ln)
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("accept")
				continue
			}
			reg.AcceptSession(conn)
		}
	}()

	<-ctx.Done()
	if err := reg.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

// onEchoData logs every payload the server receives and echoes stream
// messages back on the same session.
func onEchoData(sess *session.Session, isStream bool, payload []byte) {
	fmt.Printf("received (stream=%v, %d bytes): %q\n", isStream, len(payload), payload)
	if isStream {
		sess.SendStreamData(payload, true, false)
	}
}

func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	transportKind := fs.String("transport", "tcp", "tcp, tls, or unix")
	addr := fs.String("addr", "127.0.0.1:4455", "address to connect to (socket path for unix)")
	data := fs.String("data", "hello", "text to send as a stream message")
	fs.Parse(args)

	log := logging.New("relaykit-echo-client")

	done := make(chan struct{}, 1)
	reg := registry.New(registry.Config{
		Timer: timer.DefaultConfig(),
		Log:   log,
		Callbacks: session.Callbacks{
			OnData: func(_ *session.Session, isStream bool, payload []byte) {
				fmt.Printf("received (stream=%v, %d bytes): %q\n", isStream, len(payload), payload)
				done <- struct{}{}
			},
			OnError: func(_ *session.Session, code wire.ErrorCode, message string) {
				log.Warn().Stringer("code", code).Str("message", message).Msg("session error")
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := dial(ctx, *transportKind, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}

	sess, err := reg.OpenSession(ctx, conn, 1, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open session: %v\n", err)
		os.Exit(1)
	}

	if !sess.SendStreamData([]byte(*data), true, true) {
		fmt.Fprintln(os.Stderr, "send: session not active")
		os.Exit(1)
	}

	select {
	case <-done:
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "timed out waiting for echo")
	}

	sess.CloseSession(true)
}
