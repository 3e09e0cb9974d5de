package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TLSConfig names an on-disk cert/key/CA triple, adapted from the
// teacher's pkg/security cert-loading helpers. The slurmd-RPC
// boundary predates mTLS in the original protocol, so a nil TLSConfig
// is a first-class, expected deployment: Dial and NewServer fall back to
// insecure.NewCredentials() rather than requiring certificates.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func (c *TLSConfig) load(forServer bool) (credentials.TransportCredentials, error) {
	if c == nil {
		return insecure.NewCredentials(), nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	pool := x509.NewCertPool()
	if c.CAFile != "" {
		caPEM, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no CA certificates parsed from %s", c.CAFile)
		}
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if forServer {
		cfg.ClientAuth = tls.RequestClientCert
		cfg.ClientCAs = pool
	} else {
		cfg.RootCAs = pool
	}
	return credentials.NewTLS(cfg), nil
}

// Dial connects to addr, selecting mTLS when tlsCfg is non-nil and
// insecure transport credentials otherwise.
func Dial(addr string, tlsCfg *TLSConfig, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds, err := tlsCfg.load(false)
	if err != nil {
		return nil, err
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	return grpc.NewClient(addr, dialOpts...)
}

// NewServer builds a *grpc.Server with the given TLS configuration,
// mirroring the teacher's api.Server constructor shape
// (cert-dir lookup -> tls.Config -> credentials.NewTLS ->
// grpc.NewServer(grpc.Creds(...))) minus the raft-leadership guard,
// which does not apply to this module's single-process domain.
func NewServer(tlsCfg *TLSConfig, opts ...grpc.ServerOption) (*grpc.Server, error) {
	creds, err := tlsCfg.load(true)
	if err != nil {
		return nil, err
	}
	serverOpts := append([]grpc.ServerOption{grpc.Creds(creds)}, opts...)
	return grpc.NewServer(serverOpts...), nil
}
