package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/utils"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrPaymentRequired    = errors.New("account pending payment")
)

// sessionTTL is how long a login survives.
const sessionTTL = 24 * time.Hour

// AuthService owns accounts and session tokens. Tokens are HMAC-signed over
// the email and an expiry; the signing secret is generated per process, so a
// restart logs everyone out.
type AuthService struct {
	db     *gorm.DB
	secret []byte
	logger *slog.Logger
}

func NewAuthService(db *gorm.DB) *AuthService {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("failed to generate session secret: %v", err))
	}
	return &AuthService{
		db:     db,
		secret: secret,
		logger: utils.GetLogger(),
	}
}

// Signup registers a new owner account. The account starts pending payment
// and cannot log in until checkout completes.
func (s *AuthService) Signup(req *models.SignupRequest) (*models.User, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		Status:       models.UserStatusPendingPayment,
		CreatedAt:    time.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a session token. Pending accounts
// are refused with ErrPaymentRequired so the front end can route them back
// to checkout.
func (s *AuthService) Login(email, password string) (*models.User, string, error) {
	user, err := s.GetUser(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		return nil, "", ErrPaymentRequired
	}

	token := s.createToken(user.Email, time.Now().Add(sessionTTL))
	return user, token, nil
}

// Validate checks a session token and returns the account it belongs to.
func (s *AuthService) Validate(token string) (*models.User, error) {
	email, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// GetUser looks up an account by email.
func (s *AuthService) GetUser(email string) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Activate flips an account to active after payment settles.
func (s *AuthService) Activate(email string) (*models.User, error) {
	user, err := s.GetUser(email)
	if err != nil {
		return nil, err
	}
	if user.Status == models.UserStatusActive {
		return user, nil
	}
	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("status", models.UserStatusActive).Error; err != nil {
		return nil, err
	}
	user.Status = models.UserStatusActive
	return user, nil
}

func (s *AuthService) createToken(email string, expires time.Time) string {
	payload := email + "|" + strconv.FormatInt(expires.Unix(), 10)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." +
		base64.RawURLEncoding.EncodeToString(sig)
}

func (s *AuthService) parseToken(token string) (string, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payloadBytes)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}

	payload := string(payloadBytes)
	idx := strings.LastIndex(payload, "|")
	if idx < 0 {
		return "", ErrInvalidToken
	}
	exp, err := strconv.ParseInt(payload[idx+1:], 10, 64)
	if err != nil || time.Now().Unix() > exp {
		return "", ErrInvalidToken
	}
	return payload[:idx], nil
}
