package offline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

// DeviceKey derives a terminal's signing key from the service master secret,
// so the server never stores per-device keys.
func DeviceKey(master []byte, deviceID string) []byte {
	mac := hmac.New(sha256.New, master)
	mac.Write([]byte(deviceID))
	return mac.Sum(nil)
}

type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

func (s *Signer) Sign(r domain.PendingRecord) string {
	return sign(s.key, r)
}

// Verifier checks record signatures against keys derived from the master secret.
type Verifier struct {
	master []byte
}

func NewVerifier(master []byte) *Verifier {
	return &Verifier{master: master}
}

func (v *Verifier) Verify(r domain.PendingRecord) error {
	if r.Signature == "" {
		return fmt.Errorf("Verify: %s: %w", r.TxnID, domain.ErrInvalidSignature)
	}
	expected := sign(DeviceKey(v.master, r.DeviceID), r)
	if !hmac.Equal([]byte(expected), []byte(r.Signature)) {
		return fmt.Errorf("Verify: %s: %w", r.TxnID, domain.ErrInvalidSignature)
	}
	return nil
}

func sign(key []byte, r domain.PendingRecord) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(r.SigningPayload())
	return hex.EncodeToString(mac.Sum(nil))
}
