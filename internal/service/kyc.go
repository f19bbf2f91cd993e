package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/dualpay/fiat-wallet-service/internal/repo"
)

// KYCService tracks verification state driven by the external identity
// provider. The provider itself (document checks, applicant screening)
// is out of process; this side only records outcomes.
type KYCService struct {
	repo          repo.RepositoryInterface
	webhookSecret []byte
	log           *zap.SugaredLogger
}

func NewKYCService(r repo.RepositoryInterface, webhookSecret string, logger *zap.SugaredLogger) *KYCService {
	return &KYCService{repo: r, webhookSecret: []byte(webhookSecret), log: logger}
}

// Submit registers the user's verification attempt and moves their
// status to submitted. Repeat submissions return the existing record.
func (s *KYCService) Submit(ctx context.Context, userID uint64, applicantID string) (*model.KYCVerification, error) {
	if _, err := s.repo.GetUser(ctx, s.repo.DB(ctx), userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if existing, err := s.repo.GetKYC(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	k := &model.KYCVerification{
		UserID:              userID,
		Status:              model.KYCPending,
		ProviderApplicantID: applicantID,
	}
	if err := s.repo.CreateKYC(ctx, k); err != nil {
		return nil, err
	}
	if err := s.repo.SetUserKYCStatus(ctx, userID, model.KYCSubmitted); err != nil {
		return nil, err
	}
	s.log.Infow("kyc submitted", "user", userID, "applicant", applicantID)
	return k, nil
}

// Status returns the user's verification record.
func (s *KYCService) Status(ctx context.Context, userID uint64) (*model.KYCVerification, error) {
	k, err := s.repo.GetKYC(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return k, nil
}

// webhookPayload is the provider's decision callback body.
type webhookPayload struct {
	ApplicantID string `json:"applicant_id"`
	Result      string `json:"result"` // "clear" or "consider"
	Reason      string `json:"reason"`
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw
// webhook body. Unverified input is untrusted and must not change state.
func (s *KYCService) VerifySignature(body []byte, signature string) bool {
	if len(s.webhookSecret) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleWebhook applies a provider decision. The signature is validated
// before the body is even parsed; a bad signature is rejected with no
// writes.
func (s *KYCService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.VerifySignature(body, signature) {
		return ErrInvalidSignature
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	status := model.KYCRejected
	if p.Result == "clear" {
		status = model.KYCVerified
	}
	k, err := s.repo.UpdateKYCStatus(ctx, p.ApplicantID, status, p.Reason)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := s.repo.SetUserKYCStatus(ctx, k.UserID, status); err != nil {
		return err
	}
	if err := s.repo.SetWalletsKYCVerified(ctx, k.UserID, status == model.KYCVerified); err != nil {
		return err
	}
	s.log.Infow("kyc decision applied", "user", k.UserID, "status", status)
	return nil
}
