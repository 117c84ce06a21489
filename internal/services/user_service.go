package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/auth"
	"github.com/charlesng35/robotdesk/internal/models"
	"github.com/charlesng35/robotdesk/pkg/crypto"
	apperrors "github.com/charlesng35/robotdesk/pkg/errors"
	"github.com/charlesng35/robotdesk/pkg/logger"
	"github.com/charlesng35/robotdesk/pkg/metrics"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = apperrors.New("USERNAME_TAKEN", "Username already exists", http.StatusBadRequest)
	// ErrEmailTaken indicates the email address is already registered.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "Email already registered", http.StatusBadRequest)
)

// RegisterInput describes the fields accepted at registration.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegisterResult reports the created user and whether the verification email went out.
type RegisterResult struct {
	User      *models.User
	EmailSent bool
}

// LoginResult carries the issued access token.
type LoginResult struct {
	AccessToken string
	ExpiresIn   time.Duration
	User        *models.User
	IsVerified  bool
}

// UserProfile is a user together with its verification state.
type UserProfile struct {
	User       *models.User
	IsVerified bool
	VerifiedAt *time.Time
}

// UserService registers and authenticates local accounts.
type UserService struct {
	db           *gorm.DB
	verification *EmailVerificationService
	jwt          *auth.JWTService
	clock        clockwork.Clock
	log          *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, verification *EmailVerificationService, jwt *auth.JWTService, clock clockwork.Clock) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if verification == nil {
		return nil, errors.New("user service: verification service is required")
	}
	if jwt == nil {
		return nil, errors.New("user service: jwt service is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UserService{
		db:           db,
		verification: verification,
		jwt:          jwt,
		clock:        clock,
		log:          logger.WithModule("users"),
	}, nil
}

// Register creates the user and its verification record in one transaction, then emails the
// verification link when an address was supplied. Delivery failures do not fail registration.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("Username and password are required")
	}

	if taken, err := s.exists(ctx, "username = ?", username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}
	if email != "" {
		if taken, err := s.exists(ctx, "LOWER(email) = ?", email); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrEmailTaken
		}
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Username:  username,
		Password:  hashed,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		IsActive:  true,
	}
	if email != "" {
		user.Email = &email
	}

	var token string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperrors.ErrConflict.WithMessage("Username or email already registered")
			}
			return fmt.Errorf("user service: create user: %w", err)
		}
		issued, err := s.verification.IssueInitialTx(ctx, tx, user)
		if err != nil {
			return err
		}
		token = issued
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("user_id", user.ID), zap.Bool("has_email", email != ""))

	result := &RegisterResult{User: user}
	if email != "" {
		result.EmailSent = s.verification.SendVerificationLink(ctx, user, token)
	}
	return result, nil
}

// Authenticate checks credentials and issues an access token. Unverified users may log in.
func (s *UserService) Authenticate(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperrors.NewBadRequest("Username and password are required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR LOWER(email) = ?", identifier, strings.ToLower(identifier)).
		Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user service: lookup user: %w", err)
	}
	if err != nil || !user.IsActive || !crypto.VerifyPassword(user.Password, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(auth.AccessTokenInput{UserID: user.ID, Username: user.Username})
	if err != nil {
		return nil, fmt.Errorf("user service: issue token: %w", err)
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn("record last login failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	verified, err := s.verification.IsVerified(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &LoginResult{
		AccessToken: token,
		ExpiresIn:   s.jwt.TTL(),
		User:        &user,
		IsVerified:  verified,
	}, nil
}

// Get loads a user with its verification state.
func (s *UserService) Get(ctx context.Context, userID string) (*UserProfile, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: get user: %w", err)
	}

	profile := &UserProfile{User: &user}
	record, err := s.verification.Status(ctx, user.ID)
	switch {
	case errors.Is(err, ErrVerificationNotFound):
	case err != nil:
		return nil, err
	default:
		profile.IsVerified = record.Verified
		profile.VerifiedAt = record.VerifiedAt
	}
	return profile, nil
}

func (s *UserService) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, fmt.Errorf("user service: check uniqueness: %w", err)
	}
	return count > 0, nil
}
