package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/internal/store"
	"github.com/charlesng35/robotdesk/pkg/crypto"
	apperrors "github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/metrics"
)

const (
	defaultVerificationBaseURL = "http://localhost:5173"
	maxConflictRetries         = 3
)

// VerificationRepository is the token store consumed by the lifecycle.
type VerificationRepository interface {
	Get(ctx context.Context, userID string) (*models.VerificationToken, error)
	GetByTokenHash(ctx context.Context, hash string) (*models.VerificationToken, error)
	Create(ctx context.Context, record *models.VerificationToken) error
	Save(ctx context.Context, record *models.VerificationToken) error
}

// VerificationOption customises the EmailVerificationService.
type VerificationOption func(*EmailVerificationService)

// WithVerificationBaseURL sets the frontend base URL used in verification links.
func WithVerificationBaseURL(url string) VerificationOption {
	return func(s *EmailVerificationService) {
		if url = strings.TrimRight(strings.TrimSpace(url), "/"); url != "" {
			s.baseURL = url
		}
	}
}

// WithVerificationExpiration overrides the window stamped on newly issued records.
func WithVerificationExpiration(minutes int) VerificationOption {
	return func(s *EmailVerificationService) {
		if minutes > 0 {
			s.expirationMinutes = minutes
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock clockwork.Clock) VerificationOption {
	return func(s *EmailVerificationService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithVerificationRepository replaces the gorm backed token store.
func WithVerificationRepository(repo VerificationRepository) VerificationOption {
	return func(s *EmailVerificationService) {
		if repo != nil {
			s.tokens = repo
		}
	}
}

// WithVerificationNotifier sets the notifier used for links and confirmations.
func WithVerificationNotifier(notifier Notifier) VerificationOption {
	return func(s *EmailVerificationService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// EmailVerificationService owns the state machine of single-use email verification tokens.
type EmailVerificationService struct {
	db                *gorm.DB
	tokens            VerificationRepository
	notifier          Notifier
	clock             clockwork.Clock
	locks             *keyedMutex
	baseURL           string
	expirationMinutes int
	log               *zap.Logger
}

// ConsumeResult describes a successful consume call.
type ConsumeResult struct {
	UserID           string
	AlreadyVerified  bool
	VerifiedAt       *time.Time
	ConfirmationSent bool
}

// RegenerateResult carries the freshly issued token value. Token is empty when AlreadyVerified is set.
type RegenerateResult struct {
	Token             string
	ExpiresAt         time.Time
	ExpirationMinutes int
	AlreadyVerified   bool
}

// VerificationRequestResult is returned by the resend flows.
type VerificationRequestResult struct {
	Email           string
	AlreadyVerified bool
	EmailSent       bool
}

// NewEmailVerificationService constructs the lifecycle on top of db.
func NewEmailVerificationService(db *gorm.DB, opts ...VerificationOption) (*EmailVerificationService, error) {
	if db == nil {
		return nil, errors.New("email verification service: db is required")
	}

	service := &EmailVerificationService{
		db:                db,
		tokens:            store.NewVerificationStore(db),
		clock:             clockwork.NewRealClock(),
		locks:             newKeyedMutex(),
		baseURL:           defaultVerificationBaseURL,
		expirationMinutes: models.DefaultExpirationMinutes,
		log:               logger.WithModule("email_verification"),
	}

	for _, opt := range opts {
		opt(service)
	}

	if service.notifier == nil {
		service.notifier = NewMailNotifier(nil, "", 0)
	}

	return service, nil
}

// BaseURL returns the frontend base URL embedded in verification links.
func (s *EmailVerificationService) BaseURL() string {
	return s.baseURL
}

// IssueInitial creates the user's verification record and returns the raw token value.
// It fails with ErrVerificationExists when the user already has one.
func (s *EmailVerificationService) IssueInitial(ctx context.Context, user *models.User) (string, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("email verification service: user is required")
	}
	return s.issue(ctx, s.tokens, user.ID)
}

// IssueInitialTx behaves like IssueInitial inside the caller's transaction.
func (s *EmailVerificationService) IssueInitialTx(ctx context.Context, tx *gorm.DB, user *models.User) (string, error) {
	if tx == nil {
		return s.IssueInitial(ctx, user)
	}
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", errors.New("email verification service: user is required")
	}
	return s.issue(ctx, store.NewVerificationStore(tx), user.ID)
}

func (s *EmailVerificationService) issue(ctx context.Context, repo VerificationRepository, userID string) (string, error) {
	token := uuid.NewString()
	record := &models.VerificationToken{
		UserID:            userID,
		TokenHash:         crypto.HashToken(token),
		IssuedAt:          s.clock.Now(),
		ExpirationMinutes: s.expirationMinutes,
		Available:         true,
	}

	if err := repo.Create(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", ErrVerificationExists
		}
		return "", fmt.Errorf("email verification service: issue: %w", err)
	}
	return token, nil
}

// evaluate is the validity predicate. When the window has elapsed on a record still flagged
// available it also returns the flipped copy the caller must persist.
func evaluate(record *models.VerificationToken, now time.Time) (bool, *models.VerificationToken) {
	if record.IsUsable(now) {
		return true, nil
	}
	if !record.Verified && record.Available && !record.WithinWindow(now) {
		next := *record
		next.Available = false
		return false, &next
	}
	return false, nil
}

// IsValid reports whether record is usable now, persisting the expiry flip when one is due.
// record is updated in place with the stored state unless its token value was replaced meanwhile.
func (s *EmailVerificationService) IsValid(ctx context.Context, record *models.VerificationToken) (bool, error) {
	if record == nil {
		return false, ErrVerificationNotFound
	}
	unlock := s.locks.Lock(record.UserID)
	defer unlock()

	return s.observe(ctx, record)
}

// observe requires the caller to hold the user lock.
func (s *EmailVerificationService) observe(ctx context.Context, record *models.VerificationToken) (bool, error) {
	for attempt := 0; ; attempt++ {
		valid, mutation := evaluate(record, s.clock.Now())
		if mutation == nil {
			return valid, nil
		}

		err := s.tokens.Save(ctx, mutation)
		if err == nil {
			*record = *mutation
			return false, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return false, fmt.Errorf("email verification service: persist expiry: %w", err)
		}

		fresh, err := s.tokens.Get(ctx, record.UserID)
		if err != nil {
			return false, lookupError(err)
		}
		if fresh.TokenHash != record.TokenHash {
			// Superseded by a regenerate elsewhere; the value under test can never validate again.
			return false, nil
		}
		*record = *fresh
	}
}

// Regenerate replaces the user's token value. The old value is invalidated and persisted
// before the new one is issued.
func (s *EmailVerificationService) Regenerate(ctx context.Context, userID string) (*RegenerateResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.regenerateLocked(ctx, userID)
}

func (s *EmailVerificationService) regenerateLocked(ctx context.Context, userID string) (*RegenerateResult, error) {
	var record *models.VerificationToken
	for attempt := 0; ; attempt++ {
		current, err := s.tokens.Get(ctx, userID)
		if err != nil {
			return nil, lookupError(err)
		}
		if current.Verified {
			return &RegenerateResult{AlreadyVerified: true}, nil
		}

		current.Available = false
		err = s.tokens.Save(ctx, current)
		if err == nil {
			record = current
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return nil, fmt.Errorf("email verification service: invalidate: %w", err)
		}
	}

	token := uuid.NewString()
	record.TokenHash = crypto.HashToken(token)
	record.IssuedAt = s.clock.Now()
	if record.ExpirationMinutes <= 0 {
		record.ExpirationMinutes = s.expirationMinutes
	}
	record.Available = true

	if err := s.tokens.Save(ctx, record); err != nil {
		s.log.Warn("verification token left invalidated", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("email verification service: reissue: %w", err)
	}

	metrics.VerificationRegenerations.Inc()
	return &RegenerateResult{Token: token, ExpiresAt: record.ExpiresAt(), ExpirationMinutes: record.ExpirationMinutes}, nil
}

// Consume verifies the record holding token. An already verified record yields AlreadyVerified
// without further mutation.
func (s *EmailVerificationService) Consume(ctx context.Context, token string) (*ConsumeResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.VerificationOutcomes.WithLabelValues("not_found").Inc()
		return nil, ErrVerificationNotFound
	}
	hash := crypto.HashToken(token)

	record, err := s.tokens.GetByTokenHash(ctx, hash)
	if err != nil {
		err = lookupError(err)
		s.recordOutcome(err, nil)
		return nil, err
	}

	unlock := s.locks.Lock(record.UserID)
	result, err := s.consumeLocked(ctx, hash)
	unlock()

	s.recordOutcome(err, result)
	if err != nil {
		return nil, err
	}
	if result.AlreadyVerified {
		return result, nil
	}

	s.log.Info("email verified", zap.String("user_id", result.UserID))

	user, err := s.loadUser(ctx, result.UserID)
	if err != nil {
		s.log.Warn("load user for confirmation failed", zap.String("user_id", result.UserID), zap.Error(err))
		return result, nil
	}
	result.ConfirmationSent = s.notifier.SendVerifiedConfirmation(ctx, user)
	return result, nil
}

func (s *EmailVerificationService) consumeLocked(ctx context.Context, hash string) (*ConsumeResult, error) {
	for attempt := 0; ; attempt++ {
		record, err := s.tokens.GetByTokenHash(ctx, hash)
		if err != nil {
			return nil, lookupError(err)
		}
		if record.Verified {
			return &ConsumeResult{UserID: record.UserID, AlreadyVerified: true, VerifiedAt: record.VerifiedAt}, nil
		}

		valid, err := s.observe(ctx, record)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, ErrVerificationExpired
		}

		now := s.clock.Now()
		record.Verified = true
		record.VerifiedAt = &now
		record.Available = false

		err = s.tokens.Save(ctx, record)
		if err == nil {
			return &ConsumeResult{UserID: record.UserID, VerifiedAt: record.VerifiedAt}, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return nil, fmt.Errorf("email verification service: mark verified: %w", err)
		}
	}
}

func (s *EmailVerificationService) recordOutcome(err error, result *ConsumeResult) {
	outcome := "verified"
	switch {
	case errors.Is(err, ErrVerificationNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrVerificationExpired):
		outcome = "expired"
	case err != nil:
		outcome = "error"
	case result != nil && result.AlreadyVerified:
		outcome = "already_verified"
	}
	metrics.VerificationOutcomes.WithLabelValues(outcome).Inc()
}

// Status returns the stored record for userID without applying lazy expiry.
func (s *EmailVerificationService) Status(ctx context.Context, userID string) (*models.VerificationToken, error) {
	record, err := s.tokens.Get(ctx, userID)
	if err != nil {
		return nil, lookupError(err)
	}
	return record, nil
}

// IsVerified reports whether userID completed verification. Users without a record are unverified.
func (s *EmailVerificationService) IsVerified(ctx context.Context, userID string) (bool, error) {
	record, err := s.Status(ctx, userID)
	if errors.Is(err, ErrVerificationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Verified, nil
}

// SendVerificationLink emails a freshly issued token to user using the configured base URL.
func (s *EmailVerificationService) SendVerificationLink(ctx context.Context, user *models.User, token string) bool {
	if user == nil || token == "" {
		return false
	}
	return s.notifier.SendVerificationLink(ctx, user, token, s.baseURL, s.expirationMinutes)
}

// ResendVerification regenerates and emails a token for the user matching identifier (email or
// username). Unknown identifiers return an empty result so callers cannot probe for accounts.
func (s *EmailVerificationService) ResendVerification(ctx context.Context, identifier string) (*VerificationRequestResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.NewBadRequest("Email or username is required")
	}

	user, err := s.findByIdentifier(ctx, identifier)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug("resend requested for unknown identifier")
		return &VerificationRequestResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("email verification service: lookup user: %w", err)
	}

	return s.requestFor(ctx, user)
}

// findByIdentifier resolves an email address first and only then a username, so an address
// always reaches its owner even when another account uses it as a username.
func (s *EmailVerificationService) findByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(identifier)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.WithContext(ctx).Where("username = ?", identifier).Take(&user).Error
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RequestVerification regenerates and emails a token for an authenticated user.
func (s *EmailVerificationService) RequestVerification(ctx context.Context, userID string) (*VerificationRequestResult, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.requestFor(ctx, user)
}

func (s *EmailVerificationService) requestFor(ctx context.Context, user *models.User) (*VerificationRequestResult, error) {
	email := user.EmailAddress()
	if email == "" {
		return nil, apperrors.ErrEmailMissing
	}

	unlock := s.locks.Lock(user.ID)
	result, err := s.regenerateLocked(ctx, user.ID)
	if errors.Is(err, ErrVerificationNotFound) {
		// Accounts created before verification existed get their record on first request.
		var token string
		token, err = s.issue(ctx, s.tokens, user.ID)
		if err == nil {
			result = &RegenerateResult{Token: token, ExpirationMinutes: s.expirationMinutes}
		}
	}
	unlock()

	if err != nil {
		return nil, err
	}
	if result.AlreadyVerified {
		return &VerificationRequestResult{Email: email, AlreadyVerified: true}, nil
	}

	sent := s.notifier.SendVerificationLink(ctx, user, result.Token, s.baseURL, result.ExpirationMinutes)
	return &VerificationRequestResult{Email: email, EmailSent: sent}, nil
}

func (s *EmailVerificationService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("email verification service: load user: %w", err)
	}
	return &user, nil
}

func lookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrVerificationNotFound
	}
	return fmt.Errorf("email verification service: lookup: %w", err)
}
