package usecase

import (
	"context"
	"strings"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// アクセストークンの発行はmain側の実装に任せる
type TokenIssuer interface {
	Issue(userID int64, now time.Time) (token string, expiresAt time.Time, err error)
}

type AuthUsecase struct {
	users   repo.UserRepository
	issuer  TokenIssuer
	timeout time.Duration
}

func NewAuthUsecase(users repo.UserRepository, issuer TokenIssuer, timeout time.Duration) *AuthUsecase {
	return &AuthUsecase{users: users, issuer: issuer, timeout: timeout}
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserOutput struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type LoginOutput struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserOutput `json:"user"`
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (UserOutput, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return UserOutput{}, ErrValidation
	}
	if len(in.Password) < 8 {
		return UserOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	if _, err := u.users.FindByEmail(ctx, email); err == nil {
		return UserOutput{}, ErrConflict
	} else if !isNotFound(err) {
		return UserOutput{}, storeErr(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserOutput{}, ErrInternal
	}

	now := time.Now()
	created, err := u.users.Create(ctx, model.User{
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return UserOutput{}, ErrConflict
	}

	return UserOutput{ID: created.ID, Email: created.Email}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, email, password string) (LoginOutput, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return LoginOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	user, err := u.users.FindByEmail(ctx, email)
	if isNotFound(err) {
		return LoginOutput{}, ErrUnauthorized
	}
	if err != nil {
		return LoginOutput{}, storeErr(err)
	}
	if !user.IsActive {
		return LoginOutput{}, ErrUnauthorized
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginOutput{}, ErrUnauthorized
	}

	now := time.Now()
	token, expiresAt, err := u.issuer.Issue(user.ID, now)
	if err != nil {
		return LoginOutput{}, ErrInternal
	}

	//最終ログインはベストエフォート
	_ = u.users.UpdateLastLogin(ctx, user.ID, now)

	return LoginOutput{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        UserOutput{ID: user.ID, Email: user.Email},
	}, nil
}
