package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/auth/password"
	"github.com/mivvo/expertiz/internal/auth/token"
	"github.com/mivvo/expertiz/internal/config"
	creditdomain "github.com/mivvo/expertiz/internal/credit/domain"
	notificationdomain "github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/mivvo/expertiz/internal/user/domain"
	"github.com/mivvo/expertiz/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Repo     domain.Repository
	Tokens   *token.Manager
	Credits  creditdomain.Service
	Notifier notificationdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	tokens   *token.Manager
	credits  creditdomain.Service
	notifier notificationdomain.Service

	welcomeCredits decimal.Decimal
}

func New(p Params) domain.Service {
	welcome := decimal.Zero
	if raw := strings.TrimSpace(p.Cfg.WelcomeCredits); raw != "" {
		if parsed, err := decimal.NewFromString(raw); err == nil && parsed.IsPositive() {
			welcome = parsed
		} else {
			p.Log.Warn("ignoring invalid welcome credits value", zap.String("value", raw))
		}
	}

	return &Service{
		db:             p.DB,
		log:            p.Log.Named("user.service"),
		genID:          p.GenID,
		repo:           p.Repo,
		tokens:         p.Tokens,
		credits:        p.Credits,
		notifier:       p.Notifier,
		welcomeCredits: welcome,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return domain.AuthResponse{}, domain.ErrInvalidCredentials
	}
	if err := password.Validate(req.Password); err != nil {
		return domain.AuthResponse{}, domain.ErrWeakPassword
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         domain.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.AuthResponse{}, domain.ErrEmailTaken
		}
		return domain.AuthResponse{}, fmt.Errorf("insert user: %w", err)
	}

	if err := s.credits.EnsureLedger(ctx, user.ID); err != nil {
		return domain.AuthResponse{}, fmt.Errorf("create ledger: %w", err)
	}

	if s.welcomeCredits.IsPositive() {
		_, err := s.credits.Credit(ctx, creditdomain.CreditRequest{
			UserID:      user.ID,
			Amount:      s.welcomeCredits,
			ReferenceID: "signup:" + user.ID.String(),
			Description: "welcome credits",
		})
		if err != nil {
			// The account is usable without the starter grant; don't fail signup.
			s.log.Error("failed to grant welcome credits",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.emit(ctx, notificationdomain.WelcomeNotice(user.ID, s.welcomeCredits))

	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("find user: %w", err)
	}
	if user == nil || !user.Active || !password.Verify(req.Password, user.PasswordHash) {
		return domain.AuthResponse{}, domain.ErrInvalidCredentials
	}

	return s.issue(*user)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.User, error) {
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) EnsureAdmin(ctx context.Context, email, plain string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || plain == "" {
		return nil
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return fmt.Errorf("find admin: %w", err)
	}
	if existing != nil {
		if existing.Role == domain.RoleAdmin {
			return nil
		}
		return s.repo.UpdateRole(ctx, s.db, existing.ID, domain.RoleAdmin)
	}

	hash, err := password.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	admin := domain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Active:       true,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, &admin); err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	if err := s.credits.EnsureLedger(ctx, admin.ID); err != nil {
		return fmt.Errorf("create admin ledger: %w", err)
	}

	s.log.Info("bootstrap admin ready", zap.String("email", email))
	return nil
}

func (s *Service) issue(user domain.User) (domain.AuthResponse, error) {
	signed, expiresAt, err := s.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("issue token: %w", err)
	}
	return domain.AuthResponse{User: user, Token: signed, ExpiresAt: expiresAt}, nil
}

func (s *Service) emit(ctx context.Context, req notificationdomain.EmitRequest) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, req); err != nil {
		s.log.Warn("notification emit failed",
			zap.String("user_id", req.UserID.String()),
			zap.Error(err),
		)
	}
}
