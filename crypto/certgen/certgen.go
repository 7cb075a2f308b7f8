// Package certgen issues the self-signed cluster CA and per-node leaf
// certificates Guts nodes use for mutual TLS on both the P2P replication
// transport (package network) and the git/consensus HTTP surface (package
// wiring). Every validator and storage node in a cluster trusts the same
// CA; GenerateAll (or GenerateCA + GenerateNodeCert, to sign several node
// certs from one in-memory CA) is how that CA and a node's leaf pair come
// to exist. This package has no function that loads an existing CA.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Options adds Subject Alternative Names to a node leaf certificate beyond
// the loopback/nodeID defaults — an external IP or a DNS name the node is
// also reachable under (e.g. a cluster's internal service name).
type Options struct {
	ExtraIPs []net.IP
	ExtraDNS []string
}

// CABundle is a generated CA key pair, kept in memory so
// GenerateNodeCert can sign additional node certs without round-tripping
// through disk — useful when a cluster operator provisions several
// validators from one CA in a single run.
type CABundle struct {
	Cert    *x509.Certificate
	CertDER []byte
	Key     *ecdsa.PrivateKey
}

// GenerateAll creates a fresh cluster CA and one node certificate signed by
// it, writing four PEM files into dir:
//
//	ca.crt, ca.key, <nodeID>.crt, <nodeID>.key
//
// All files are created with 0600 permissions. Pass nil opts for a
// loopback-only node certificate.
func GenerateAll(dir, nodeID string, opts *Options) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("certgen: mkdir %s: %w", dir, err)
	}
	ca, err := GenerateCA()
	if err != nil {
		return fmt.Errorf("certgen: generate CA: %w", err)
	}
	if err := writePEM(filepath.Join(dir, "ca.crt"), "CERTIFICATE", ca.CertDER); err != nil {
		return err
	}
	caKeyDER, err := x509.MarshalECPrivateKey(ca.Key)
	if err != nil {
		return fmt.Errorf("certgen: marshal CA key: %w", err)
	}
	if err := writePEM(filepath.Join(dir, "ca.key"), "EC PRIVATE KEY", caKeyDER); err != nil {
		return err
	}
	return GenerateNodeCert(dir, nodeID, ca, opts)
}

// GenerateCA creates a new self-signed cluster CA, valid ten years. It is
// not persisted to disk — callers write CertDER / Key themselves (see
// GenerateAll) or hold the bundle in memory to mint several node certs.
func GenerateCA() (*CABundle, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "Guts cluster CA"},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse CA cert: %w", err)
	}
	return &CABundle{Cert: cert, CertDER: der, Key: key}, nil
}

// GenerateNodeCert mints a leaf certificate for nodeID signed by ca, valid
// five years, and writes <nodeID>.crt / <nodeID>.key into dir. The
// CommonName is the node's identity string (spec §2's NodeID) rather than
// a validator pubkey: the cert authenticates the TCP endpoint, not a
// consensus identity — those are authenticated separately, by the
// Ed25519 signatures in package crypto.
func GenerateNodeCert(dir, nodeID string, ca *CABundle, opts *Options) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("certgen: generate node key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	dns := []string{"localhost", nodeID}
	if opts != nil {
		ips = append(ips, opts.ExtraIPs...)
		dns = append(dns, opts.ExtraDNS...)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: nodeID},
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(5 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  ips,
		DNSNames:     dns,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return fmt.Errorf("certgen: create node cert: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("certgen: mkdir %s: %w", dir, err)
	}
	if err := writePEM(filepath.Join(dir, nodeID+".crt"), "CERTIFICATE", der); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("certgen: marshal node key: %w", err)
	}
	return writePEM(filepath.Join(dir, nodeID+".key"), "EC PRIVATE KEY", keyDER)
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("certgen: generate serial: %w", err)
	}
	return serial, nil
}

func writePEM(path, typ string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("certgen: create %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: typ, Bytes: data})
}
