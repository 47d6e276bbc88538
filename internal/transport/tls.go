package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"
)

const alpnProtocol = "relaykit-session-v1"

// certValidity is a listener's self-signed certificate lifetime: long
// enough to outlive a single registry process (this layer has no
// rotation path, unlike goet's QUIC listener which is re-exec'd far more
// often), short enough that a leaked keypair from a long-dead listener
// isn't useful forever.
const certValidity = 30 * 24 * time.Hour

// GenerateSelfSignedCert creates an ephemeral self-signed TLS certificate
// for a listener bound to addr. The certificate's subject and SAN are
// derived from addr rather than left anonymous, so a client that does
// pin on SubjectCommonName for logging/diagnostics (InsecureSkipVerify
// still governs chain trust; the handshake, not the cert, authenticates
// the session) sees the address it actually dialed.
func GenerateSelfSignedCert(addr string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	subject := certSubject(addr)

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: subject},
		DNSNames:     []string{subject},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
	}, nil
}

// certSubject extracts the host a listener is bound to for use as a
// certificate's CommonName/SAN, falling back to "localhost" for an
// address with no host part (":4455") or one that isn't a host:port pair
// at all, such as a unix socket path.
func certSubject(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// ServerTLSConfig returns a TLS config for a TLS-over-TCP session listener.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns a TLS config for dialing a TLS-over-TCP session.
// InsecureSkipVerify is true because this layer authenticates at the
// session handshake, not via certificate chain validation. Same
// rationale as goet's ClientTLSConfig.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}
}

// tlsListener is a TLS-over-TCP listener.
type tlsListener struct {
	ln net.Listener
}

// ListenTLS binds a TLS-over-TCP listener at addr using cert. Callers
// typically obtain cert from GenerateSelfSignedCert(addr) so the
// certificate's subject matches the address being bound.
func ListenTLS(addr string, cert tls.Certificate) (Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	inner, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	ln := tls.NewListener(inner, ServerTLSConfig(cert))
	return &tlsListener{ln: ln}, nil
}

func (l *tlsListener) Accept(ctx context.Context) (Conn, error) {
	return acceptWithContext(ctx, l.ln)
}

func (l *tlsListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tlsListener) Close() error   { return l.ln.Close() }

// DialTLS opens a TLS-over-TCP connection to addr.
func DialTLS(ctx context.Context, addr string) (Conn, error) {
	dialer := tls.Dialer{Config: ClientTLSConfig()}
	return dialer.DialContext(ctx, "tcp", addr)
}
