package paypal

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"

	AuthAlgoSHA256withRSA = "SHA256withRSA"
)

// TransmissionHeaders are the signature headers PayPal puts on each webhook.
type TransmissionHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// HeadersFrom reads the transmission headers through get, e.g. fiber's c.Get
// or http.Header.Get.
func HeadersFrom(get func(key string) string) TransmissionHeaders {
	return TransmissionHeaders{
		TransmissionID:   strings.TrimSpace(get(HeaderTransmissionID)),
		TransmissionTime: strings.TrimSpace(get(HeaderTransmissionTime)),
		TransmissionSig:  strings.TrimSpace(get(HeaderTransmissionSig)),
		CertURL:          strings.TrimSpace(get(HeaderCertURL)),
		AuthAlgo:         strings.TrimSpace(get(HeaderAuthAlgo)),
	}
}

// CanonicalMessage builds transmissionId|transmissionTime|webhookId|crc32 as
// signed by PayPal. The checksum is the unsigned decimal IEEE CRC32 of body.
func CanonicalMessage(transmissionID, transmissionTime, webhookID string, body []byte) string {
	crc := strconv.FormatUint(uint64(crc32.ChecksumIEEE(body)), 10)
	return transmissionID + "|" + transmissionTime + "|" + webhookID + "|" + crc
}

// Verifier checks webhook signatures against PayPal's signing certificate.
type Verifier struct {
	webhookID string
	certs     CertFetcher
}

func NewVerifier(webhookID string, certs CertFetcher) *Verifier {
	return &Verifier{webhookID: strings.TrimSpace(webhookID), certs: certs}
}

// Check returns nil only for an authentic notification.
func (v *Verifier) Check(ctx context.Context, h TransmissionHeaders, body []byte) error {
	if v.webhookID == "" {
		return fmt.Errorf("paypal: webhook id not configured")
	}

	var missing []string
	for name, val := range map[string]string{
		HeaderTransmissionID:   h.TransmissionID,
		HeaderTransmissionTime: h.TransmissionTime,
		HeaderTransmissionSig:  h.TransmissionSig,
		HeaderCertURL:          h.CertURL,
		HeaderAuthAlgo:         h.AuthAlgo,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingHeader, strings.Join(missing, ","))
	}

	if h.AuthAlgo != AuthAlgoSHA256withRSA {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, h.AuthAlgo)
	}

	sig, err := base64.StdEncoding.DecodeString(h.TransmissionSig)
	if err != nil {
		return fmt.Errorf("paypal: decode signature: %w", err)
	}

	cert, err := v.certs.Fetch(ctx, h.CertURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: leaf key is not RSA", ErrCertUntrusted)
	}

	digest := sha256.Sum256([]byte(CanonicalMessage(h.TransmissionID, h.TransmissionTime, v.webhookID, body)))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// Verify is Check reduced to a yes/no answer, logging the reason on failure.
func (v *Verifier) Verify(ctx context.Context, h TransmissionHeaders, body []byte) bool {
	if err := v.Check(ctx, h, body); err != nil {
		log.Warnf("[PayPal] webhook rejected (transmission %q): %v", h.TransmissionID, err)
		return false
	}
	return true
}
