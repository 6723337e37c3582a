package mfa

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"time"

	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/shared/config"
	apperrors "github.com/zeitwerk/platform/internal/shared/errors"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"github.com/zeitwerk/platform/internal/shared/types"
	"go.uber.org/zap"
)

const (
	backupCodeCount  = 8
	backupCodeDigits = 8
	deviceTokenBytes = 32

	// MethodTOTP and MethodBackup name the verification path taken.
	MethodTOTP   = "totp"
	MethodBackup = "backup_code"
)

var (
	totpCodePattern   = regexp.MustCompile(`^\d{6}$`)
	backupCodePattern = regexp.MustCompile(`^\d{8}$`)
)

// errInvalidCode is the single answer for every verification failure:
// wrong code, unknown backup code, undecryptable stored secret. One
// message, one status, no oracle.
func errInvalidCode() *apperrors.AppError {
	return &apperrors.AppError{
		Err:        apperrors.ErrBadRequest,
		Message:    "Invalid code",
		Code:       "MFA_INVALID_CODE",
		HTTPStatus: http.StatusBadRequest,
	}
}

func errSetupExpired() *apperrors.AppError {
	return &apperrors.AppError{
		Err:        apperrors.ErrBadRequest,
		Message:    "Setup session expired, please restart MFA setup",
		Code:       "MFA_SETUP_EXPIRED",
		HTTPStatus: http.StatusBadRequest,
	}
}

func errNoSetup() *apperrors.AppError {
	return &apperrors.AppError{
		Err:        apperrors.ErrBadRequest,
		Message:    "MFA setup has not been started",
		Code:       "MFA_NO_SETUP",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Engine drives the MFA lifecycle: setup, verification, backup codes,
// lockouts and trusted devices. Failed attempts share the sliding-window
// counter store with the rate limiter, keyed per user instead of per IP.
type Engine struct {
	store    Store
	attempts ratelimit.CounterStore
	box      *cipherBox
	cfg      config.MFAConfig
	logger   *zap.Logger
	audit    *audit.Logger
	now      func() time.Time
}

// NewEngine creates an MFA engine.
func NewEngine(store Store, attempts ratelimit.CounterStore, cfg config.MFAConfig, logger *zap.Logger, auditLogger *audit.Logger) *Engine {
	return &Engine{
		store:    store,
		attempts: attempts,
		box:      newCipherBox(cfg.EncryptionKey),
		cfg:      cfg,
		logger:   logger,
		audit:    auditLogger,
		now:      time.Now,
	}
}

// Required reports whether the role must have MFA enabled.
func (e *Engine) Required(role identity.Role) bool {
	for _, r := range e.cfg.RequiredRoles {
		if string(role) == r {
			return true
		}
	}
	return false
}

// Status is the MFA state reported to the client.
type Status struct {
	Enabled              bool       `json:"enabled"`
	SetupCompleted       bool       `json:"setup_completed"`
	Required             bool       `json:"required"`
	GraceExpiresAt       *time.Time `json:"grace_expires_at,omitempty"`
	InGrace              bool       `json:"in_grace_period"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	LockedUntil          *time.Time `json:"locked_until,omitempty"`
}

// Status returns the user's MFA state, including how far into the
// post-onboarding grace period a required-role user is.
func (e *Engine) Status(ctx context.Context, principal identity.Principal) (*Status, error) {
	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Enabled:        rec.Enabled,
		SetupCompleted: rec.SetupCompleted,
		Required:       e.Required(principal.Role),
	}

	if st.Required && !rec.Enabled {
		graceEnd := rec.AccountCreatedAt.Add(time.Duration(e.cfg.GraceDays) * 24 * time.Hour)
		st.GraceExpiresAt = &graceEnd
		st.InGrace = e.now().Before(graceEnd)
	}

	if rec.Enabled && rec.BackupCodes != "" {
		if codes, err := e.decodeBackupCodes(rec.BackupCodes); err == nil {
			st.BackupCodesRemaining = len(codes)
		}
	}

	if lockout, err := e.store.ActiveLockout(ctx, principal.UserID, e.now()); err == nil && lockout != nil {
		st.LockedUntil = &lockout.LockedUntil
	}
	return st, nil
}

// SetupRequired reports whether the principal must complete MFA setup
// before proceeding: required role, not enabled, grace period elapsed.
func (e *Engine) SetupRequired(ctx context.Context, principal identity.Principal) (bool, error) {
	if !e.Required(principal.Role) {
		return false, nil
	}
	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return false, err
	}
	if rec.Enabled {
		return false, nil
	}
	graceEnd := rec.AccountCreatedAt.Add(time.Duration(e.cfg.GraceDays) * 24 * time.Hour)
	return !e.now().Before(graceEnd), nil
}

// SetupInfo is returned from BeginSetup; the plaintext secret leaves the
// server exactly once, here.
type SetupInfo struct {
	Secret          string `json:"secret"`
	ManualKey       string `json:"manual_entry_key"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// BeginSetup issues a temporary secret. The secret is stored encrypted
// and only becomes permanent after the user proves possession in
// ConfirmSetup.
func (e *Engine) BeginSetup(ctx context.Context, principal identity.Principal, ip, userAgent string) (*SetupInfo, error) {
	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if rec.Enabled {
		return nil, apperrors.Conflict("MFA is already enabled")
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	encrypted, err := e.box.encrypt([]byte(secret))
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := e.store.SaveTempSecret(ctx, principal.UserID, encrypted, e.now().UTC()); err != nil {
		return nil, err
	}

	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFASetupStarted,
		IP:        ip,
		UserAgent: userAgent,
	})
	return &SetupInfo{
		Secret:          secret,
		ManualKey:       FormatManualKey(secret),
		ProvisioningURI: ProvisioningURI(e.cfg.Issuer, principal.Email, secret),
	}, nil
}

// ConfirmSetup verifies a code against the pending temp secret,
// promotes it to the permanent slot and returns the freshly generated
// backup codes. The plaintext codes are shown exactly once. Confirmation
// attempts count against the same lockout as Verify, so a locked user
// cannot keep guessing here.
func (e *Engine) ConfirmSetup(ctx context.Context, principal identity.Principal, code, ip, userAgent string) ([]string, error) {
	if !totpCodePattern.MatchString(code) {
		return nil, errInvalidCode()
	}
	if lockout, err := e.store.ActiveLockout(ctx, principal.UserID, e.now()); err != nil {
		return nil, err
	} else if lockout != nil {
		return nil, apperrors.MFALocked(lockout.LockedUntil)
	}

	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if rec.Enabled {
		return nil, apperrors.Conflict("MFA is already enabled")
	}
	if rec.TempSecret == "" || rec.TempSecretCreated == nil {
		return nil, errNoSetup()
	}
	if e.now().Sub(*rec.TempSecretCreated) > e.cfg.TempSecretTTL {
		return nil, errSetupExpired()
	}

	secret, err := e.box.decrypt(rec.TempSecret)
	if err != nil {
		return nil, e.fail(ctx, principal.UserID, MethodTOTP, ip, userAgent)
	}
	if !VerifyCode(string(secret), code, e.now()) {
		return nil, e.fail(ctx, principal.UserID, MethodTOTP, ip, userAgent)
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	encrypted, err := e.encodeBackupCodes(codes)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := e.store.PromoteTempSecret(ctx, principal.UserID, rec.TempSecret, encrypted, e.now().UTC()); err != nil {
		return nil, err
	}
	_ = e.attempts.Reset(ctx, e.attemptKey(principal.UserID))
	if err := e.store.ClearLockouts(ctx, principal.UserID); err != nil {
		e.logger.Error("lockout cleanup failed", zap.Error(err))
	}

	metrics.RecordMFAVerification(MethodTOTP, true)
	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFASetupCompleted,
		IP:        ip,
		UserAgent: userAgent,
	})
	return codes, nil
}

// Verify checks a submitted code for an enabled user. A 6-digit code is
// tried against the TOTP secret, an 8-digit one against the backup
// codes; anything else is rejected before any cryptography runs. The
// returned method names the path that succeeded.
func (e *Engine) Verify(ctx context.Context, principal identity.Principal, code, ip, userAgent string) (string, error) {
	// Malformed codes are thrown out before any store or crypto work and
	// never count as an attempt.
	isTOTP := totpCodePattern.MatchString(code)
	if !isTOTP && !backupCodePattern.MatchString(code) {
		return "", errInvalidCode()
	}

	if lockout, err := e.store.ActiveLockout(ctx, principal.UserID, e.now()); err != nil {
		return "", err
	} else if lockout != nil {
		return "", apperrors.MFALocked(lockout.LockedUntil)
	}

	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return "", err
	}
	if !rec.Enabled || rec.Secret == "" {
		return "", errNoSetup()
	}

	if isTOTP {
		return e.verifyTOTP(ctx, principal, rec, code, ip, userAgent)
	}
	return e.verifyBackupCode(ctx, principal, rec, code, ip, userAgent)
}

func (e *Engine) verifyTOTP(ctx context.Context, principal identity.Principal, rec *Record, code, ip, userAgent string) (string, error) {
	secret, err := e.box.decrypt(rec.Secret)
	if err != nil {
		return "", e.fail(ctx, principal.UserID, MethodTOTP, ip, userAgent)
	}
	if !VerifyCode(string(secret), code, e.now()) {
		return "", e.fail(ctx, principal.UserID, MethodTOTP, ip, userAgent)
	}

	e.succeed(ctx, principal.UserID, MethodTOTP, ip, userAgent)
	return MethodTOTP, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, principal identity.Principal, rec *Record, code, ip, userAgent string) (string, error) {
	codes, err := e.decodeBackupCodes(rec.BackupCodes)
	if err != nil {
		return "", e.fail(ctx, principal.UserID, MethodBackup, ip, userAgent)
	}

	match := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return "", e.fail(ctx, principal.UserID, MethodBackup, ip, userAgent)
	}

	remaining := append(append([]string{}, codes[:match]...), codes[match+1:]...)
	encrypted, err := e.encodeBackupCodes(remaining)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	// Compare-and-swap: if another request consumed a code in between,
	// the stored blob changed and the swap fails. Treating that as a
	// plain failure means a code can never be spent twice.
	swapped, err := e.store.SwapBackupCodes(ctx, principal.UserID, rec.BackupCodes, encrypted)
	if err != nil {
		return "", err
	}
	if !swapped {
		return "", e.fail(ctx, principal.UserID, MethodBackup, ip, userAgent)
	}

	e.succeed(ctx, principal.UserID, MethodBackup, ip, userAgent)
	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFABackupCodeUsed,
		Details:   fmt.Sprintf("%d codes remaining", len(remaining)),
		IP:        ip,
		UserAgent: userAgent,
	})
	if len(remaining) <= 2 {
		e.logger.Warn("user running low on backup codes",
			zap.String("user_id", principal.UserID.String()),
			zap.Int("remaining", len(remaining)))
	}
	return MethodBackup, nil
}

// RegenerateBackupCodes replaces all backup codes. The caller must have
// passed step-up verification on this session; the pipeline enforces
// that before the request reaches here.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principal identity.Principal, ip, userAgent string) ([]string, error) {
	rec, err := e.store.GetRecord(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return nil, errNoSetup()
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	encrypted, err := e.encodeBackupCodes(codes)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := e.store.SetBackupCodes(ctx, principal.UserID, encrypted); err != nil {
		return nil, err
	}

	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFABackupCodesReset,
		IP:        ip,
		UserAgent: userAgent,
	})
	return codes, nil
}

// IssueTrustedDevice mints a bearer token that lets this client skip
// the TOTP prompt until expiry. Only the sha256 hash is stored; the
// plaintext token is returned once.
func (e *Engine) IssueTrustedDevice(ctx context.Context, principal identity.Principal, deviceName, ip, userAgent string) (string, *TrustedDevice, error) {
	raw := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperrors.Internal(err)
	}
	token := hex.EncodeToString(raw)

	now := e.now().UTC()
	device := &TrustedDevice{
		ID:         types.NewID(),
		UserID:     principal.UserID,
		TokenHash:  hashDeviceToken(token),
		DeviceName: deviceName,
		ExpiresAt:  now.Add(time.Duration(e.cfg.TrustedDeviceDays) * 24 * time.Hour),
		CreatedAt:  now,
	}
	if err := e.store.CreateTrustedDevice(ctx, device); err != nil {
		return "", nil, err
	}

	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFATrustedDeviceAdded,
		Details:   deviceName,
		IP:        ip,
		UserAgent: userAgent,
	})
	return token, device, nil
}

// CheckTrustedDevice reports whether the token identifies a live
// trusted device for the user.
func (e *Engine) CheckTrustedDevice(ctx context.Context, userID types.ID, token string) bool {
	if token == "" {
		return false
	}
	device, err := e.store.FindTrustedDevice(ctx, userID, hashDeviceToken(token), e.now())
	if err != nil {
		e.logger.Error("trusted device lookup failed", zap.Error(err))
		return false
	}
	return device != nil
}

// ListTrustedDevices returns the user's registered devices.
func (e *Engine) ListTrustedDevices(ctx context.Context, userID types.ID) ([]TrustedDevice, error) {
	return e.store.ListTrustedDevices(ctx, userID)
}

// RevokeTrustedDevice removes one device.
func (e *Engine) RevokeTrustedDevice(ctx context.Context, principal identity.Principal, deviceID types.ID, ip string) error {
	if err := e.store.DeleteTrustedDevice(ctx, principal.UserID, deviceID); err != nil {
		return err
	}
	e.audit.Record(audit.Entry{
		UserID:    principal.UserID,
		EventType: audit.EventMFATrustedDeviceGone,
		Details:   deviceID.String(),
		IP:        ip,
	})
	return nil
}

func (e *Engine) attemptKey(userID types.ID) string {
	return ratelimit.Key("mfa-attempts", userID.String())
}

// fail records one failed attempt and decides, atomically with the
// count, whether the user crossed the lockout threshold.
func (e *Engine) fail(ctx context.Context, userID types.ID, method, ip, userAgent string) error {
	metrics.RecordMFAVerification(method, false)

	result, err := e.attempts.Add(ctx, e.attemptKey(userID), e.now(), e.cfg.AttemptWindow, 0)
	if err != nil {
		e.logger.Error("mfa attempt tracking failed", zap.Error(err))
		return errInvalidCode()
	}

	e.audit.Record(audit.Entry{
		UserID:    userID,
		EventType: audit.EventMFAVerifyFailure,
		Details:   fmt.Sprintf("method=%s attempt=%d", method, result.Count),
		IP:        ip,
		UserAgent: userAgent,
	})

	if result.Count < e.cfg.MaxAttempts {
		return errInvalidCode()
	}

	lockedUntil := e.now().UTC().Add(e.cfg.LockoutDuration)
	lockout := &Lockout{
		ID:          types.NewID(),
		UserID:      userID,
		LockedUntil: lockedUntil,
		Reason:      fmt.Sprintf("%d failed attempts within %s", result.Count, e.cfg.AttemptWindow),
	}
	if err := e.store.CreateLockout(ctx, lockout); err != nil {
		e.logger.Error("lockout creation failed", zap.Error(err))
		return errInvalidCode()
	}
	_ = e.attempts.Reset(ctx, e.attemptKey(userID))

	metrics.RecordMFALockout()
	e.audit.Record(audit.Entry{
		UserID:    userID,
		EventType: audit.EventMFALockoutCreated,
		Details:   lockout.Reason,
		IP:        ip,
		UserAgent: userAgent,
	})
	return apperrors.MFALocked(lockedUntil)
}

func (e *Engine) succeed(ctx context.Context, userID types.ID, method, ip, userAgent string) {
	_ = e.attempts.Reset(ctx, e.attemptKey(userID))
	if err := e.store.ClearLockouts(ctx, userID); err != nil {
		e.logger.Error("lockout cleanup failed", zap.Error(err))
	}
	if err := e.store.SetLastUsed(ctx, userID, e.now().UTC()); err != nil {
		e.logger.Error("mfa last-used update failed", zap.Error(err))
	}

	metrics.RecordMFAVerification(method, true)
	e.audit.Record(audit.Entry{
		UserID:    userID,
		EventType: audit.EventMFAVerifySuccess,
		Details:   "method=" + method,
		IP:        ip,
		UserAgent: userAgent,
	})
}

func (e *Engine) encodeBackupCodes(codes []string) (string, error) {
	data, err := json.Marshal(codes)
	if err != nil {
		return "", err
	}
	return e.box.encrypt(data)
}

func (e *Engine) decodeBackupCodes(encrypted string) ([]string, error) {
	data, err := e.box.decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return nil, errDecrypt
	}
	return codes, nil
}

func hashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateBackupCodes draws 8 codes of 8 decimal digits each from
// crypto/rand.
func generateBackupCodes() ([]string, error) {
	max := big.NewInt(100_000_000)
	codes := make([]string, 0, backupCodeCount)
	for len(codes) < backupCodeCount {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		codes = append(codes, fmt.Sprintf("%0*d", backupCodeDigits, n))
	}
	return codes, nil
}
