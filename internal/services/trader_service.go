// internal/services/trader_service.go
package services

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/config"
	"github.com/scrylabs/scry-backend/internal/ledger"
	"github.com/scrylabs/scry-backend/internal/models"
	"github.com/scrylabs/scry-backend/internal/signature"
	"github.com/scrylabs/scry-backend/internal/utils"
)

type TraderService struct {
	db     *gorm.DB
	cfg    *config.Config
	ledger *LedgerService
	signer Signer
	notify *NotificationService
}

// SignupRequest registers a trader. Account may be omitted when PrivateKey
// is given; the key is then taken into custody and the account derived
// from it.
type SignupRequest struct {
	Name       string `json:"name" validate:"required,trader_name"`
	Password   string `json:"password" validate:"required,strong_password,max=72"`
	Account    string `json:"account" validate:"required_without=PrivateKey,omitempty,ledger_address"`
	PrivateKey string `json:"private_key,omitempty"`
}

type LoginRequest struct {
	Name     string `json:"name" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,strong_password,max=72"`
}

type AuthResponse struct {
	Trader       *models.Trader `json:"trader"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"` // in seconds
}

// TraderDetails adds the ledger balance to a trader record. Balance is
// omitted when the ledger could not be read.
type TraderDetails struct {
	*models.Trader
	Balance   *int64 `json:"balance,omitempty"`
	Custodial bool   `json:"custodial"`
}

func NewTraderService(db *gorm.DB, cfg *config.Config, ledgerService *LedgerService, signer Signer, notify *NotificationService) *TraderService {
	return &TraderService{
		db:     db,
		cfg:    cfg,
		ledger: ledgerService,
		signer: signer,
		notify: notify,
	}
}

func (s *TraderService) Signup(ctx context.Context, req *SignupRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	account := req.Account
	if req.PrivateKey != "" {
		key, err := ParsePrivateKey(req.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrConstraintViolation, err)
		}
		derived := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
		if account != "" && !signature.SameAddress(account, derived) {
			return nil, fmt.Errorf("%w: private key does not control account %s", ledger.ErrConstraintViolation, account)
		}
		if err := s.takeCustody(key); err != nil {
			return nil, err
		}
		account = derived
	}

	trader := &models.Trader{
		Name:    req.Name,
		Account: account,
		Status:  models.TraderStatusActive,
	}
	if err := trader.SetPassword(req.Password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(trader).Error; err != nil {
		return nil, insertError(err, ErrTraderExists, "create trader")
	}

	logrus.WithFields(logrus.Fields{
		"trader_id": trader.ID,
		"name":      trader.Name,
		"account":   trader.Account,
	}).Info("Trader signed up")

	s.notify.TraderJoined(trader)
	return s.issueTokens(trader)
}

func (s *TraderService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	var trader models.Trader
	if err := s.db.WithContext(ctx).Where("name = ?", req.Name).First(&trader).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if err := trader.CheckPassword(req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if trader.Status != models.TraderStatusActive {
		return nil, fmt.Errorf("%s is %s: %w", trader.Name, trader.Status, ErrTraderSuspended)
	}

	now := time.Now()
	trader.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(&trader).Update("last_login_at", now).Error; err != nil {
		logrus.WithError(err).WithField("trader_id", trader.ID).Warn("Failed to record login time")
	}

	return s.issueTokens(&trader)
}

func (s *TraderService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	traderID, err := utils.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	trader, err := s.GetTrader(ctx, traderID)
	if err != nil {
		return nil, err
	}
	if trader.Status != models.TraderStatusActive {
		return nil, fmt.Errorf("%s is %s: %w", trader.Name, trader.Status, ErrTraderSuspended)
	}
	return s.issueTokens(trader)
}

func (s *TraderService) ChangePassword(ctx context.Context, traderID uuid.UUID, req *ChangePasswordRequest) error {
	trader, err := s.GetTrader(ctx, traderID)
	if err != nil {
		return err
	}
	if err := trader.CheckPassword(req.CurrentPassword); err != nil {
		return ErrInvalidCredentials
	}
	if err := trader.SetPassword(req.NewPassword); err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(trader).Update("password_hash", trader.PasswordHash).Error; err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

func (s *TraderService) GetTrader(ctx context.Context, id uuid.UUID) (*models.Trader, error) {
	var trader models.Trader
	if err := s.db.WithContext(ctx).First(&trader, "id = ?", id).Error; err != nil {
		return nil, lookupError(err, ErrTraderNotFound, "get")
	}
	return &trader, nil
}

func (s *TraderService) GetByAccount(ctx context.Context, account string) (*models.Trader, error) {
	var trader models.Trader
	if err := s.db.WithContext(ctx).Where("account = ?", strings.ToLower(account)).First(&trader).Error; err != nil {
		return nil, lookupError(err, ErrTraderNotFound, account)
	}
	return &trader, nil
}

func (s *TraderService) Details(ctx context.Context, trader *models.Trader) *TraderDetails {
	details := &TraderDetails{Trader: trader}
	if s.signer != nil {
		if addr, err := signature.ParseAddress(trader.Account); err == nil {
			details.Custodial = s.signer.CanSign(addr)
		}
	}
	if s.ledger == nil {
		return details
	}
	balance, err := s.ledger.Balance(ctx, trader.Account)
	if err != nil {
		logrus.WithError(err).WithField("account", trader.Account).Warn("Failed to read trader balance")
		return details
	}
	details.Balance = &balance.Balance
	return details
}

func (s *TraderService) ListTraders(ctx context.Context, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Trader{})
	if params.Search != "" {
		query = query.Where("name LIKE ?", "%"+params.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count traders: %w", err)
	}

	var traders []*models.Trader
	query = query.Scopes(utils.SortBy(params, "", "created_at", "name"), utils.Paginate(params))
	if err := query.Find(&traders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch traders: %w", err)
	}

	details := make([]*TraderDetails, 0, len(traders))
	for _, trader := range traders {
		details = append(details, s.Details(ctx, trader))
	}

	result := utils.CreatePaginationResult(details, total, params)
	return &result, nil
}

// RoleAccounts returns name to account for every trader, used to seed the
// event stream's role table at startup.
func (s *TraderService) RoleAccounts(ctx context.Context) (map[string]string, error) {
	var traders []models.Trader
	if err := s.db.WithContext(ctx).Select("name", "account").Find(&traders).Error; err != nil {
		return nil, fmt.Errorf("failed to load traders: %w", err)
	}
	out := make(map[string]string, len(traders))
	for _, t := range traders {
		out[t.Name] = t.Account
	}
	return out, nil
}

func (s *TraderService) takeCustody(key *ecdsa.PrivateKey) error {
	if s.signer == nil {
		return ErrSignerUnavailable
	}
	_, err := s.signer.Import(key)
	return err
}

func (s *TraderService) issueTokens(trader *models.Trader) (*AuthResponse, error) {
	accessToken, err := utils.GenerateJWT(trader.ID, trader.Name, trader.Account, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := utils.GenerateRefreshToken(trader.ID, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &AuthResponse{
		Trader:       trader,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.JWT.AccessTokenTTL * 3600,
	}, nil
}
