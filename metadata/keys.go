package metadata

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Supported key types, matching the "keytype" field of a Key entry.
const (
	KeyTypeEd25519 = "ed25519"
	KeyTypeECDSA   = "ecdsa"
)

// decodePEMOrRaw turns the PEM-encoded public key material stored on a
// Key back into a crypto.PublicKey usable with sigstore's verifier.
func decodePEMOrRaw(pemStr string, keyType string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("metadata: key %s is not valid PEM", keyType)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("metadata: parsing public key: %w", err)
	}
	return pub, nil
}

// encodePublicKey PEM-encodes pub and classifies its key type/scheme
// for storage in a Key entry.
func encodePublicKey(pub crypto.PublicKey) (pemStr string, keyType string, scheme string, err error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", "", fmt.Errorf("metadata: marshaling public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	pemStr = string(pem.EncodeToMemory(block))

	switch pub.(type) {
	case ed25519.PublicKey:
		return pemStr, KeyTypeEd25519, "ed25519", nil
	case *ecdsa.PublicKey:
		return pemStr, KeyTypeECDSA, "ecdsa-sha2-nistp256", nil
	default:
		return "", "", "", fmt.Errorf("metadata: unsupported public key type %T", pub)
	}
}
