package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"

	"gigfin/internal/core"
	"gigfin/internal/log"
)

const qrSize = 256

// TOTPSetup is what an authenticator app needs to enrol.
type TOTPSetup struct {
	Secret    string `json:"secret"`
	URL       string `json:"otpauthUrl"`
	QRCodePNG string `json:"qrCodePng"` // base64
}

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// BeginTOTPSetup generates and stores a fresh secret without enabling it.
// Calling it again replaces a secret that was never confirmed.
func (s *Service) BeginTOTPSetup(ctx context.Context, u core.User) (TOTPSetup, error) {
	if u.TOTPEnabled {
		return TOTPSetup{}, ErrTOTPAlreadyEnabled
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.cfg.Issuer, AccountName: u.Email})
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("generate totp key: %w", err)
	}
	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrSize)
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("encode qr code: %w", err)
	}
	if err := s.store.SetTOTP(ctx, u.ID, key.Secret(), false); err != nil {
		return TOTPSetup{}, err
	}
	return TOTPSetup{
		Secret:    key.Secret(),
		URL:       key.URL(),
		QRCodePNG: base64.StdEncoding.EncodeToString(png),
	}, nil
}

// EnableTOTP confirms a pending secret with a code from the authenticator.
func (s *Service) EnableTOTP(ctx context.Context, userID int64, code string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.TOTPEnabled {
		return ErrTOTPAlreadyEnabled
	}
	if u.TOTPSecret == "" {
		return ErrTOTPNotSetUp
	}
	if !s.validCode(code, u.TOTPSecret) {
		return ErrInvalidCode
	}
	if err := s.store.SetTOTP(ctx, u.ID, u.TOTPSecret, true); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Two-factor enabled", log.FieldUserID, u.ID)
	return nil
}

func (s *Service) DisableTOTP(ctx context.Context, userID int64, code string) error {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.TOTPEnabled {
		return ErrTOTPNotEnabled
	}
	if !s.validCode(code, u.TOTPSecret) {
		return ErrInvalidCode
	}
	if err := s.store.SetTOTP(ctx, u.ID, "", false); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Two-factor disabled", log.FieldUserID, u.ID)
	return nil
}

// VerifyTwoFactor completes a pending session.
func (s *Service) VerifyTwoFactor(ctx context.Context, sess core.Session, code string) error {
	if !sess.TwoFactorPending {
		return nil
	}
	u, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if !u.TOTPEnabled || !s.validCode(code, u.TOTPSecret) {
		s.logger.WarnContext(ctx, "Two-factor verification failed", log.FieldUserID, u.ID)
		return ErrInvalidCode
	}
	return s.store.CompleteTwoFactor(ctx, sess.ID)
}

func (s *Service) validCode(code, secret string) bool {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != 6 || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, s.now().UTC(), validateOpts)
	return err == nil && ok
}
