package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/sigpost/dkim"
	"golang.org/x/crypto/ed25519"
)

var (
	domain     string
	selector   string
	keyFile    string
	headerList string
	relaxed    bool
)

func init() {
	flag.StringVar(&domain, "d", "", "signing domain")
	flag.StringVar(&selector, "s", "", "selector")
	flag.StringVar(&keyFile, "f", "dkim.priv", "private key filename (PEM, PKCS#8)")
	flag.StringVar(&headerList, "h", "From,To,Subject", "comma-separated headers to sign")
	flag.BoolVar(&relaxed, "relaxed", true, "use relaxed/relaxed canonicalization")
	flag.Parse()
}

func main() {
	message, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("failed to read message: %v", err)
	}

	signer := buildSigner()

	sigHeader, err := dkim.Sign(message, signer)
	if err != nil {
		log.Fatalf("failed to sign message: %v", err)
	}

	os.Stdout.Write(sigHeader)
	os.Stdout.Write(message)
}

func buildSigner() *dkim.Signer {
	s := dkim.NewSigner().Domain(domain).Selector(selector)

	var names []string
	for _, n := range strings.Split(headerList, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			names = append(names, n)
		}
	}
	if len(names) > 0 {
		s = s.Headers(names)
	}

	if relaxed {
		s = s.HeaderCanonicalization(dkim.CanonicalizationRelaxed).
			BodyCanonicalization(dkim.CanonicalizationRelaxed)
	} else {
		s = s.HeaderCanonicalization(dkim.CanonicalizationSimple).
			BodyCanonicalization(dkim.CanonicalizationSimple)
	}

	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		log.Fatalf("failed to read key file: %v", err)
	}
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		log.Fatalf("failed to decode PEM block in %q", keyFile)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		log.Fatalf("failed to parse private key: %v", err)
	}
	switch key := key.(type) {
	case ed25519.PrivateKey:
		s = s.PrivateKeyEd25519(key)
	case *rsa.PrivateKey:
		s = s.PrivateKeyRSA(key)
	default:
		log.Fatalf("unsupported private key type %T", key)
	}

	return s
}
