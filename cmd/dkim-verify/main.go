package main

import (
	"io"
	"log"
	"os"

	"github.com/sigpost/dkim"
)

func main() {
	message, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatal(err)
	}

	verifications, err := dkim.Verify(message, dkim.DefaultLookupTXT)
	if err != nil {
		log.Fatal(err)
	}

	for _, v := range verifications {
		if v.Err == nil {
			log.Printf("valid signature for %s (selector=%s, algo=%s, key=%s)", v.Domain, v.Selector, v.Algorithm, v.KeyAlgorithm)
		} else {
			log.Printf("invalid signature for %s (selector=%s, algo=%s): %v", v.Domain, v.Selector, v.Algorithm, v.Err)
		}
	}
}
