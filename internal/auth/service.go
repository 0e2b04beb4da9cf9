package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZetoOfficial/portal-cms/internal/metrics"
	"github.com/ZetoOfficial/portal-cms/internal/models"
	"github.com/ZetoOfficial/portal-cms/internal/settings"
	"github.com/ZetoOfficial/portal-cms/internal/storage"
)

const maxNameLength = 100

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, page models.Page) ([]models.User, int, error)
}

type Mailer interface {
	SendVerification(ctx context.Context, u *models.User, link string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, u *models.User, link string, ttl time.Duration) error
}

// SessionRevoker drops every session of a user.
type SessionRevoker interface {
	DestroyUser(ctx context.Context, userID string) error
}

type Settings interface {
	Bool(ctx context.Context, key string) bool
}

type Options struct {
	BaseURL              string
	RequireVerifiedEmail bool
	LoginRatePerMinute   int
	LoginBurst           int
	BcryptCost           int
}

// Service реализует регистрацию, вход, подтверждение почты и сброс пароля.
type Service struct {
	users    UserStore
	tokens   *TokenManager
	mailer   Mailer
	sessions SessionRevoker
	settings Settings
	limiter  *Limiter
	metrics  *metrics.Registry
	opts     Options
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(users UserStore, tokens *TokenManager, mailer Mailer, sessions SessionRevoker, st Settings, m *metrics.Registry, opts Options) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Service{
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
		sessions: sessions,
		settings: st,
		limiter:  NewLimiter(opts.LoginRatePerMinute, opts.LoginBurst),
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@")+1:], ".")
}

type RegisterInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func validateAccount(email, name, password string) error {
	verr := models.NewValidationError()
	if email == "" {
		verr.Add("email", "is required")
	} else if !validEmail(email) {
		verr.Add("email", "is not a valid address")
	}
	if name == "" {
		verr.Add("name", "is required")
	} else if utf8.RuneCountInString(name) > maxNameLength {
		verr.Add("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if err := ValidatePassword(password); err != nil {
		verr.Add("password", strings.TrimPrefix(err.Error(), ErrWeakPassword.Error()+": "))
	}
	return verr.Err()
}

// Register creates an unverified client account and mails the
// verification link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if !s.settings.Bool(ctx, settings.RegistrationOpen) {
		return nil, ErrRegistrationClosed
	}
	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if err := validateAccount(email, name, in.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	user, err := s.createUser(ctx, email, name, in.Password, models.RoleClient, false)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("Зарегистрирован пользователь")

	if err := s.sendVerification(ctx, user); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": user.ID, "error": err}).Error("Не удалось отправить письмо подтверждения")
	}
	return user, nil
}

func (s *Service) createUser(ctx context.Context, email, name, password string, role models.Role, verified bool) (*models.User, error) {
	hash, err := hashPassword(password, s.opts.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &models.User{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          name,
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: verified,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if verified {
		user.VerifiedAt = &now
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) link(path, token string) string {
	return s.opts.BaseURL + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) sendVerification(ctx context.Context, user *models.User) error {
	plain, _, err := s.tokens.Issue(ctx, user.ID, models.TokenVerifyEmail)
	if err != nil {
		return err
	}
	return s.mailer.SendVerification(ctx, user, s.link("/verify-email", plain), s.tokens.TTL(models.TokenVerifyEmail))
}

func (s *Service) loginOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

// Login checks credentials. Attempts are throttled per email and client IP.
func (s *Service) Login(ctx context.Context, email, password, clientIP string) (*models.User, error) {
	email = NormalizeEmail(email)
	key := email + "|" + clientIP
	if !s.limiter.Allow(key) {
		s.loginOutcome("throttled")
		logrus.WithFields(logrus.Fields{"email": email, "ip": clientIP}).Warn("Превышен лимит попыток входа")
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		// keep timing close to the known-user path
		checkPassword(string(s.dummy()), password)
		s.loginOutcome("invalid")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !checkPassword(user.PasswordHash, password) {
		s.loginOutcome("invalid")
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		s.loginOutcome("disabled")
		return nil, ErrAccountDisabled
	}
	if s.opts.RequireVerifiedEmail && !user.EmailVerified {
		s.loginOutcome("unverified")
		return nil, ErrEmailNotVerified
	}

	now := s.now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	s.limiter.Reset(key)
	s.loginOutcome("ok")
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "ip": clientIP}).Info("Вход выполнен")
	return user, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password-0"), s.opts.BcryptCost)
	})
	return s.dummyHash
}

// VerifyEmail consumes a verification token and marks the owner verified.
func (s *Service) VerifyEmail(ctx context.Context, plain string) (*models.User, error) {
	token, err := s.tokens.Consume(ctx, plain, models.TokenVerifyEmail)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, token.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return user, nil
	}
	now := s.now().UTC()
	user.EmailVerified = true
	user.VerifiedAt = &now
	user.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	logrus.WithField("user_id", user.ID).Info("Почта подтверждена")
	return user, nil
}

// ResendVerification silently ignores unknown, disabled and verified
// addresses so the endpoint does not reveal who is registered.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified || !user.Active {
		return nil
	}
	return s.sendVerification(ctx, user)
}

// RequestPasswordReset mails a reset link. Unknown and disabled accounts
// are ignored without an error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return nil
	}
	plain, _, err := s.tokens.Issue(ctx, user.ID, models.TokenResetPassword)
	if err != nil {
		return err
	}
	logrus.WithField("user_id", user.ID).Info("Запрошен сброс пароля")
	return s.mailer.SendPasswordReset(ctx, user, s.link("/reset-password", plain), s.tokens.TTL(models.TokenResetPassword))
}

// ResetPassword sets a new password using a reset token. The password is
// checked first so a weak one does not burn the token. Afterwards every
// session of the user is destroyed.
func (s *Service) ResetPassword(ctx context.Context, plain, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	token, err := s.tokens.Validate(ctx, plain, models.TokenResetPassword)
	if err != nil {
		return err
	}
	user, err := s.users.GetUserByID(ctx, token.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return ErrAccountDisabled
	}
	if _, err := s.tokens.Consume(ctx, plain, models.TokenResetPassword); err != nil {
		return err
	}

	hash, err := hashPassword(newPassword, s.opts.BcryptCost)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	user.PasswordHash = hash
	user.UpdatedAt = now
	if !user.EmailVerified {
		// the link arrived by mail, so the address is confirmed
		user.EmailVerified = true
		user.VerifiedAt = &now
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.tokens.Revoke(ctx, user.ID, models.TokenResetPassword); err != nil {
		return err
	}
	if err := s.sessions.DestroyUser(ctx, user.ID); err != nil {
		return fmt.Errorf("destroy sessions: %w", err)
	}
	logrus.WithField("user_id", user.ID).Info("Пароль сброшен")
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !checkPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := hashPassword(newPassword, s.opts.BcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.tokens.Revoke(ctx, user.ID, models.TokenResetPassword); err != nil {
		return err
	}
	logrus.WithField("user_id", user.ID).Info("Пароль изменён")
	return nil
}

// CreateAdmin creates a verified administrator. Used by the CLI.
func (s *Service) CreateAdmin(ctx context.Context, email, name, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateAccount(email, name, password); err != nil {
		return nil, err
	}
	user, err := s.createUser(ctx, email, name, password, models.RoleAdmin, true)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"user_id": user.ID, "email": user.Email}).Info("Создан администратор")
	return user, nil
}

// CurrentUser returns an active user by ID, used to resolve sessions.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, page models.Page) (models.PageResult[models.User], error) {
	users, total, err := s.users.ListUsers(ctx, page)
	if err != nil {
		return models.PageResult[models.User]{}, fmt.Errorf("list users: %w", err)
	}
	return models.NewPageResult(users, total, page), nil
}

type AccountUpdate struct {
	Role   *models.Role `json:"role"`
	Active *bool        `json:"active"`
}

// UpdateAccount changes role or active flag. Disabling an account or
// changing its role logs the user out everywhere.
func (s *Service) UpdateAccount(ctx context.Context, actorID, userID string, upd AccountUpdate) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	verr := models.NewValidationError()
	if upd.Role != nil && !upd.Role.Valid() {
		verr.Add("role", "is not a valid role")
	}
	if actorID == userID {
		if upd.Active != nil && !*upd.Active {
			verr.Add("active", "you cannot disable your own account")
		}
		if upd.Role != nil && *upd.Role != user.Role {
			verr.Add("role", "you cannot change your own role")
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	changed := false
	if upd.Role != nil && *upd.Role != user.Role {
		user.Role = *upd.Role
		changed = true
	}
	if upd.Active != nil && *upd.Active != user.Active {
		user.Active = *upd.Active
		changed = true
	}
	if !changed {
		return user, nil
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := s.sessions.DestroyUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("destroy sessions: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
		"active":  user.Active,
		"by":      actorID,
	}).Info("Учётная запись изменена")
	return user, nil
}
