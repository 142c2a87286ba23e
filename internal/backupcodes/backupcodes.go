// Package backupcodes implements the Backup Codes Service (§4.H): a thin
// read/export layer over the backup-code rows the MFA Service owns.
package backupcodes

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/aim-core/internal/apierr"
	"github.com/lavente-care/aim-core/internal/audit"
	"github.com/lavente-care/aim-core/internal/clock"
	"github.com/lavente-care/aim-core/internal/cryptosvc"
	"github.com/lavente-care/aim-core/internal/store"
	"github.com/lavente-care/aim-core/internal/totp"
)

const regenerateThreshold = 2

type Service struct {
	store   store.MfaStore
	users   store.UserStore
	totp    *totp.Service
	secrets *cryptosvc.SecretBox
	hasher  *cryptosvc.PasswordHasher
	audit   audit.Sink
	clock   clock.Clock
}

func NewService(st store.MfaStore, users store.UserStore, totpSvc *totp.Service, secrets *cryptosvc.SecretBox, hasher *cryptosvc.PasswordHasher, auditSink audit.Sink, clk clock.Clock) *Service {
	return &Service{store: st, users: users, totp: totpSvc, secrets: secrets, hasher: hasher, audit: auditSink, clock: clk}
}

// Status is the getStatus projection of §4.H.
type Status struct {
	IsEnabled       bool
	TotalCodes      int
	RemainingCodes  int
	UsedCodes       int
	LastUsedAt      *time.Time
	GeneratedAt     *time.Time
	ShouldRegenerate bool
}

func (s *Service) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	cfg, err := s.store.GetMfaConfiguration(ctx, userID)
	if err != nil {
		return Status{}, nil
	}
	remaining, err := s.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	_, usedTotal, err := s.store.ListUsedBackupCodes(ctx, userID, 0, 0)
	if err != nil {
		return Status{}, err
	}

	var lastUsedAt *time.Time
	used, _, err := s.store.ListUsedBackupCodes(ctx, userID, 0, 1)
	if err != nil {
		return Status{}, err
	}
	if len(used) > 0 {
		lastUsedAt = used[0].UsedAt
	}

	return Status{
		IsEnabled:        cfg.IsEnabled,
		TotalCodes:       remaining + usedTotal,
		RemainingCodes:   remaining,
		UsedCodes:        usedTotal,
		LastUsedAt:       lastUsedAt,
		ShouldRegenerate: remaining <= regenerateThreshold,
	}, nil
}

// UsedCodePage is one page of the listUsedCodes projection.
type UsedCodePage struct {
	Entries      []*store.MfaBackupCode
	Total        int
	Page         int
	Limit        int
	TotalPages   int
	HasNext      bool
	HasPrevious  bool
}

func (s *Service) ListUsedCodes(ctx context.Context, userID uuid.UUID, page, limit int) (UsedCodePage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	entries, total, err := s.store.ListUsedBackupCodes(ctx, userID, (page-1)*limit, limit)
	if err != nil {
		return UsedCodePage{}, err
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return UsedCodePage{
		Entries:     entries,
		Total:       total,
		Page:        page,
		Limit:       limit,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}, nil
}

// VerifyDirect consumes one unused backup code out of band, with no
// preceding MFA challenge.
func (s *Service) VerifyDirect(ctx context.Context, userID uuid.UUID, code, ipAddress, userAgent string) (success bool, remainingCodes int, shouldRegenerate bool, err error) {
	codes, err := s.store.ListUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, 0, false, err
	}

	var matched *store.MfaBackupCode
	for _, c := range codes {
		ok, verifyErr := totp.VerifyBackupCode(s.hasher, c.CodeHash, code)
		if verifyErr != nil {
			continue
		}
		if ok {
			matched = c
			break
		}
	}
	if matched == nil {
		return false, 0, false, apierr.BadRequestf("invalid backup code")
	}

	now := s.clock.Now()
	if err := s.store.MarkBackupCodeUsed(ctx, matched.ID, ipAddress, userAgent, now); err != nil {
		return false, 0, false, err
	}
	remaining, err := s.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return false, 0, false, err
	}

	s.audit.Log(ctx, audit.EventMFABackupCodeUsed, audit.Params{
		UserID: &userID, IPAddress: ipAddress, UserAgent: userAgent,
		Metadata: map[string]any{"backupCodesRemaining": remaining},
	})
	return true, remaining, remaining <= regenerateThreshold, nil
}

// verifyPasswordAndTOTP re-checks both factors before a destructive or
// sensitive backup-code operation, per §4.H's precondition list.
func (s *Service) verifyPasswordAndTOTP(ctx context.Context, userID uuid.UUID, password, totpCode string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return apierr.Unauthorizedf("invalid credentials")
	}
	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Unauthorizedf("invalid credentials")
	}

	cfg, err := s.store.GetMfaConfiguration(ctx, userID)
	if err != nil || !cfg.IsEnabled {
		return apierr.BadRequestf("mfa is not enabled")
	}
	secret, err := s.secrets.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return err
	}
	if !s.totp.VerifyToken(secret, totpCode) {
		return apierr.BadRequestf("invalid verification code")
	}
	return nil
}

// RegenerateCodes requires a fresh password and TOTP check; it replaces
// the backup-code set atomically and returns the new plaintext codes
// once.
func (s *Service) RegenerateCodes(ctx context.Context, userID uuid.UUID, password, totpCode string) ([]string, error) {
	if err := s.verifyPasswordAndTOTP(ctx, userID, password, totpCode); err != nil {
		return nil, err
	}
	plainCodes, err := s.regenerateCodesWithoutAudit(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, audit.EventMFABackupCodesRegenerated, audit.Params{UserID: &userID})
	return plainCodes, nil
}

func (s *Service) regenerateCodesWithoutAudit(ctx context.Context, userID uuid.UUID) ([]string, error) {
	plainCodes, err := s.totp.GenerateBackupCodes(10)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	rows := make([]*store.MfaBackupCode, len(plainCodes))
	for i, code := range plainCodes {
		hash, hashErr := totp.HashBackupCode(s.hasher, code)
		if hashErr != nil {
			return nil, hashErr
		}
		rows[i] = &store.MfaBackupCode{ID: uuid.New(), UserID: userID, CodeHash: hash, CreatedAt: now}
	}

	if err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteBackupCodes(ctx, userID); err != nil {
			return err
		}
		return s.store.CreateBackupCodes(ctx, rows)
	}); err != nil {
		return nil, err
	}
	return plainCodes, nil
}

// Export is the byte payload + mime + filename triple returned by
// exportCodes.
type Export struct {
	Payload  []byte
	MimeType string
	Filename string
}

// ExportCodes requires password and TOTP re-verification and at least
// one unused code. Because codes are stored only as Argon2id hashes,
// the plaintext values handed back here cannot be the same bytes
// generated at setup time — export regenerates a fresh set (the one
// operation that can legitimately produce plaintext), then formats it
// for download.
func (s *Service) ExportCodes(ctx context.Context, userID uuid.UUID, password, totpCode, format string) (Export, error) {
	if err := s.verifyPasswordAndTOTP(ctx, userID, password, totpCode); err != nil {
		return Export{}, err
	}
	remaining, err := s.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return Export{}, err
	}
	if remaining == 0 {
		return Export{}, apierr.BadRequestf("no unused backup codes remain")
	}

	plainCodes, err := s.regenerateCodesWithoutAudit(ctx, userID)
	if err != nil {
		return Export{}, err
	}

	var export Export
	switch format {
	case "pdf":
		export = Export{Payload: renderPDF(plainCodes), MimeType: "application/pdf", Filename: "backup-codes.pdf"}
	default:
		export = Export{Payload: []byte(strings.Join(plainCodes, "\n") + "\n"), MimeType: "text/plain", Filename: "backup-codes.txt"}
	}

	s.audit.Log(ctx, audit.EventBackupCodesExported, audit.Params{UserID: &userID, Metadata: map[string]any{"format": format}})
	return export, nil
}

// renderPDF hand-builds a minimal single-page PDF. No PDF library
// appears anywhere in the retrieval pack, so this writes the handful of
// objects a PDF viewer needs directly rather than reaching for a
// document-generation dependency that isn't grounded in the pack.
func renderPDF(lines []string) []byte {
	var body strings.Builder
	body.WriteString("BT /F1 12 Tf 50 750 Td 16 TL\n")
	for _, line := range lines {
		body.WriteString("(" + pdfEscape(line) + ") Tj T*\n")
	}
	body.WriteString("ET")
	content := body.String()

	var buf strings.Builder
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj<</Type/Catalog/Pages 2 0 R>>endobj\n")
	buf.WriteString("2 0 obj<</Type/Pages/Kids[3 0 R]/Count 1>>endobj\n")
	buf.WriteString("3 0 obj<</Type/Page/Parent 2 0 R/Resources<</Font<</F1 5 0 R>>>>/MediaBox[0 0 612 792]/Contents 4 0 R>>endobj\n")
	buf.WriteString(fmt.Sprintf("4 0 obj<</Length %d>>stream\n%s\nendstream endobj\n", len(content), content))
	buf.WriteString("5 0 obj<</Type/Font/Subtype/Type1/BaseFont/Helvetica>>endobj\n")
	buf.WriteString("trailer<</Root 1 0 R>>\n")
	return []byte(buf.String())
}

func pdfEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "(", "\\(")
	s = strings.ReplaceAll(s, ")", "\\)")
	return s
}
