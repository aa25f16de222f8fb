package breeding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dragonfarm/internal/blob"
	"dragonfarm/pkg/domain"
)

// CertificatePrefix is the blob key prefix of archived hatch certificates.
const CertificatePrefix = "certificates/"

// Certificate is the archived record of a completed cross. It carries the seed
// so the offspring genotype can be replayed from the parents.
type Certificate struct {
	ID          string           `json:"id"`
	RequestID   string           `json:"request_id"`
	DragonID    string           `json:"dragon_id"`
	Name        string           `json:"name"`
	Sex         domain.Sex       `json:"sex"`
	HatchedAt   time.Time        `json:"hatched_at"`
	ParentIDs   []string         `json:"parent_ids"`
	Seed        int64            `json:"seed"`
	Genotype    domain.Genotype  `json:"genotype"`
	Phenotype   domain.Phenotype `json:"phenotype"`
	RarityScore float64          `json:"rarity_score"`
	IssuedAt    time.Time        `json:"issued_at"`
}

// CertificateKey returns the blob key for a dragon's certificate.
func CertificateKey(dragonID string) string {
	return CertificatePrefix + dragonID + ".json"
}

// NewCertificate builds the certificate for a completed request.
func NewCertificate(req domain.BreedingRequest, profile domain.DragonProfile, issuedAt time.Time) Certificate {
	return Certificate{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		DragonID:    profile.Dragon.ID,
		Name:        profile.Dragon.Name,
		Sex:         profile.Dragon.Sex,
		HatchedAt:   profile.Dragon.HatchedAt,
		ParentIDs:   append([]string(nil), profile.Dragon.ParentIDs...),
		Seed:        req.Seed,
		Genotype:    profile.Genotype.Clone(),
		Phenotype:   profile.Phenotype,
		RarityScore: profile.Dragon.RarityScore,
		IssuedAt:    issuedAt.UTC(),
	}
}

// ArchiveCertificate writes cert create-only to store.
func ArchiveCertificate(ctx context.Context, store blob.Store, cert Certificate) (blob.Info, error) {
	payload, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode certificate %s: %w", cert.DragonID, err)
	}
	return store.Put(ctx, CertificateKey(cert.DragonID), bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"request_id":     cert.RequestID,
			"certificate_id": cert.ID,
		},
	})
}

// LoadCertificate reads a dragon's certificate back from store.
func LoadCertificate(ctx context.Context, store blob.Store, dragonID string) (Certificate, error) {
	_, body, err := store.Get(ctx, CertificateKey(dragonID))
	if err != nil {
		return Certificate{}, err
	}
	defer func() { _ = body.Close() }()
	var cert Certificate
	if err := json.NewDecoder(body).Decode(&cert); err != nil {
		return Certificate{}, fmt.Errorf("decode certificate %s: %w", dragonID, err)
	}
	return cert, nil
}

// ListCertificates returns the archived certificates ordered by key.
func ListCertificates(ctx context.Context, store blob.Store) ([]blob.Info, error) {
	return store.List(ctx, CertificatePrefix)
}

// CertificateDragonID recovers the dragon id from a certificate key.
func CertificateDragonID(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, CertificatePrefix), ".json")
}
