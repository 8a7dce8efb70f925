package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"flowboard/internal/domain"
	"flowboard/internal/events"
	"flowboard/internal/repo"
)

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

func validatePassword(field, pw string) error {
	if len(pw) < 8 || len(pw) > 128 {
		return invalidField(field, "must be between 8 and 128 characters")
	}
	var upper, digit bool
	for _, r := range pw {
		if unicode.IsUpper(r) {
			upper = true
		}
		if unicode.IsDigit(r) {
			digit = true
		}
	}
	if !upper {
		return invalidField(field, "must contain at least one uppercase letter")
	}
	if !digit {
		return invalidField(field, "must contain at least one digit")
	}
	return nil
}

func normalizeEmail(field, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidField(field, "invalid email address")
	}
	return email, nil
}

func (e Engine) bcryptCost() int {
	if e.Config != nil && e.Config.Auth.BcryptCost > 0 {
		return e.Config.Auth.BcryptCost
	}
	return bcrypt.DefaultCost
}

// Register creates a user. The very first account becomes a global admin.
func (e Engine) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	email, err := normalizeEmail("email", in.Email)
	if err != nil {
		return domain.User{}, err
	}
	name := strings.TrimSpace(in.Name)
	if len(name) < 2 || len(name) > 255 {
		return domain.User{}, invalidField("name", "must be between 2 and 255 characters")
	}
	if err := validatePassword("password", in.Password); err != nil {
		return domain.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), e.bcryptCost())
	if err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	count, err := e.Repo.CountUsers(ctx, tx)
	if err != nil {
		return domain.User{}, err
	}
	role := domain.RoleDeveloper
	if count == 0 {
		role = domain.RoleAdmin
	}
	now := e.nowString()
	u := domain.User{
		ID:        newID(),
		Email:     email,
		Name:      name,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertUser(ctx, tx, u, string(hash)); err != nil {
		return domain.User{}, conflictOn(err, "email already registered")
	}
	if err := e.events().Append(ctx, tx, events.UserRegistered, "", "user", u.ID, u.ID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, conflictOn(err, "email already registered")
	}
	return u, nil
}

// Login verifies credentials. Unknown email and wrong password both yield ErrInvalidCredentials.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, hash, err := e.Repo.GetUserCredentials(ctx, e.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return domain.User{}, inactiveError()
	}
	return u, nil
}

// ActiveUser loads a user for an authenticated request and rejects deactivated accounts.
func (e Engine) ActiveUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, e.DB, id)
	if err != nil {
		return u, err
	}
	if !u.IsActive {
		return u, inactiveError()
	}
	return u, nil
}

type ProfileUpdate struct {
	Name      *string
	AvatarURL *string
}

func (e Engine) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (domain.User, error) {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if len(name) < 2 || len(name) > 255 {
			return domain.User{}, invalidField("name", "must be between 2 and 255 characters")
		}
		in.Name = &name
	}
	if in.AvatarURL != nil && len(*in.AvatarURL) > 500 {
		return domain.User{}, invalidField("avatar_url", "must be at most 500 characters")
	}
	if err := e.Repo.UpdateUserProfile(ctx, e.DB, userID, in.Name, in.AvatarURL, e.nowString()); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, e.DB, userID)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ForgotPassword stores a hashed single-use reset token and returns the plain token.
// An unknown email returns an empty token and no error.
func (e Engine) ForgotPassword(ctx context.Context, email string) (string, error) {
	u, err := e.Repo.GetUserByEmail(ctx, e.DB, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	token := newID()
	ttl := time.Hour
	if e.Config != nil && e.Config.Auth.ResetTTL > 0 {
		ttl = e.Config.Auth.ResetTTL
	}
	expires := domain.FormatTime(e.now().Add(ttl))
	if err := e.Repo.SetResetToken(ctx, e.DB, u.ID, hashToken(token), expires); err != nil {
		return "", err
	}
	return token, nil
}

func (e Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}
	u, err := e.Repo.UserByResetToken(ctx, e.DB, hashToken(token), e.nowString())
	if errors.Is(err, repo.ErrNotFound) {
		return ValidationError{Field: "token", Msg: "token expired or invalid"}
	}
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), e.bcryptCost())
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetPassword(ctx, tx, u.ID, string(hash), e.nowString()); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.UserPasswordChanged, "", "user", u.ID, u.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey returns the stored key and the plain secret, which is never shown again.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.APIKey{}, "", invalidField("name", "is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "fb_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, e.DB, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// AuthenticateAPIKey resolves the owner of a plain API key and records its use.
func (e Engine) AuthenticateAPIKey(ctx context.Context, plain string) (domain.User, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, e.DB, repo.HashAPIKey(plain))
	if err != nil {
		return domain.User{}, err
	}
	u, err := e.ActiveUser(ctx, key.UserID)
	if err != nil {
		return u, err
	}
	if err := e.Repo.TouchAPIKey(ctx, e.DB, key.ID, e.nowString()); err != nil {
		e.Log.Warn().Err(err).Str("api_key", key.ID).Msg("record api key use")
	}
	return u, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, e.DB, userID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return e.Repo.DeleteAPIKey(ctx, e.DB, userID, id)
}
