package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for audit chain hashing. Version suffix enables a
// future algorithm migration without ambiguity.
const DomainAudit = "cascade/audit/v1"

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical canonically marshals v and hashes it under domain.
func HashCanonical(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash canonical: %w", err)
	}
	return HashWithDomain(domain, data), nil
}
