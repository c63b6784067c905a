package pdf

import (
	"context"
	"io"
	"time"
)

// Provider renders signing artifacts as PDF documents.
type Provider interface {
	GenerateCertificate(ctx context.Context, data CertificateData) (io.Reader, error)
}

// CertificateData is everything printed on a completion certificate.
type CertificateData struct {
	EnvelopeID      string
	Title           string
	DigestAlgorithm string
	DigestValue     string
	SentAt          time.Time
	CompletedAt     time.Time
	Signers         []CertificateSigner
	// Events is the audit trail summary, oldest first.
	Events []CertificateEvent
}

type CertificateSigner struct {
	Name               string
	Email              string
	Sequence           int
	SignedAt           time.Time
	SignatureAlgorithm string
	KeyID              string
	IPAddress          string
}

type CertificateEvent struct {
	At    time.Time
	Type  string
	Actor string
}
