package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/models"
)

type sentLink struct {
	UserID  string
	Token   string
	BaseURL string
	Minutes int
}

type recordingNotifier struct {
	mu            sync.Mutex
	links         []sentLink
	confirmations []string
	fail          bool
}

func (n *recordingNotifier) SendVerificationLink(_ context.Context, user *models.User, token, baseURL string, minutes int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = append(n.links, sentLink{UserID: user.ID, Token: token, BaseURL: baseURL, Minutes: minutes})
	return !n.fail
}

func (n *recordingNotifier) SendVerifiedConfirmation(_ context.Context, user *models.User) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, user.ID)
	return !n.fail
}

func (n *recordingNotifier) lastToken(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.links, "no verification link sent")
	return n.links[len(n.links)-1].Token
}

func (n *recordingNotifier) confirmationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmations)
}

// failingSaveRepo fails the n-th Save call.
type failingSaveRepo struct {
	VerificationRepository
	failOn int
	saves  int
}

func (r *failingSaveRepo) Save(ctx context.Context, record *models.VerificationToken) error {
	r.saves++
	if r.saves == r.failOn {
		return errors.New("disk full")
	}
	return r.VerificationRepository.Save(ctx, record)
}

func seedUser(t *testing.T, db *gorm.DB, username, email string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Password: "hash", IsActive: true}
	if email != "" {
		user.Email = &email
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// interleavingRepo runs before ahead of the first Save, letting another writer slip in between a
// read and the write that depends on it.
type interleavingRepo struct {
	VerificationRepository
	before func()
	once   sync.Once
}

func (r *interleavingRepo) Save(ctx context.Context, record *models.VerificationToken) error {
	r.once.Do(r.before)
	return r.VerificationRepository.Save(ctx, record)
}
