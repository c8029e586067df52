package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"avatar-api/internal/domain"
	"avatar-api/internal/repository"
	"avatar-api/internal/telemetry"
)

// ProfileVerifier valida un token de proveedor. oauth.Registry lo implementa.
type ProfileVerifier interface {
	Verify(ctx context.Context, provider domain.Provider, token string) (domain.Profile, error)
}

// AuthService orquesta el login social y la autenticación de requests firmadas.
type AuthService struct {
	logger     *zap.Logger
	verifier   ProfileVerifier
	identities *IdentityService
	signer     *SignatureService
}

func NewAuthService(logger *zap.Logger, verifier ProfileVerifier, identities *IdentityService, signer *SignatureService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		logger:     logger,
		verifier:   verifier,
		identities: identities,
		signer:     signer,
	}
}

type LoginResult struct {
	ProviderID string      `json:"providerId"`
	AuthToken  string      `json:"authToken"`
	User       domain.User `json:"user"`
}

func (s *AuthService) Login(ctx context.Context, rawProvider, token string) (LoginResult, error) {
	provider, ok := domain.ParseProvider(rawProvider)
	if !ok || provider == domain.ProviderLocal {
		telemetry.Logins.WithLabelValues("unsupported", "invalid_credential").Inc()
		return LoginResult{}, fmt.Errorf("%w: unsupported provider", ErrInvalidCredential)
	}

	profile, err := s.verifier.Verify(ctx, provider, token)
	if err != nil {
		telemetry.Logins.WithLabelValues(provider.String(), "invalid_credential").Inc()
		if errors.Is(err, ErrInvalidCredential) {
			return LoginResult{}, err
		}
		return LoginResult{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := s.identities.ResolveOrCreate(ctx, provider, profile)
	if err != nil {
		telemetry.Logins.WithLabelValues(provider.String(), "error").Inc()
		if errors.Is(err, ErrInvalidCredential) {
			return LoginResult{}, err
		}
		if errors.Is(err, ErrInternal) {
			return LoginResult{}, err
		}
		return LoginResult{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	if !user.IsActive {
		telemetry.Logins.WithLabelValues(provider.String(), "inactive").Inc()
		s.logger.Info("login refused for inactive user", zap.String("user_id", user.ID))
		return LoginResult{}, ErrUnauthenticated
	}

	sig, err := s.signer.Sign(user.ProviderID)
	if err != nil {
		telemetry.Logins.WithLabelValues(provider.String(), "error").Inc()
		s.logger.Error("sign auth token failed", zap.String("user_id", user.ID), zap.Error(err))
		return LoginResult{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	telemetry.Logins.WithLabelValues(provider.String(), "success").Inc()
	return LoginResult{
		ProviderID: user.ProviderID,
		AuthToken:  sig,
		User:       user,
	}, nil
}

// Authenticate valida el par (providerId, firma) y resuelve el usuario.
// Todo rechazo es un *GateError con motivo interno.
func (s *AuthService) Authenticate(ctx context.Context, providerID, signature string) (domain.User, error) {
	if providerID == "" || signature == "" {
		return domain.User{}, s.reject(ReasonMissingHeaders, ErrUnauthenticated)
	}

	if err := s.signer.Check(providerID, signature); err != nil {
		if errors.Is(err, ErrSignatureExpired) {
			return domain.User{}, s.reject(ReasonExpired, ErrUnauthenticated)
		}
		return domain.User{}, s.reject(ReasonBadSignature, ErrUnauthenticated)
	}

	user, err := s.identities.Lookup(ctx, providerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrAmbiguous) {
			return domain.User{}, s.reject(ReasonUnknownIdentity, ErrUnauthenticated)
		}
		s.logger.Error("gate user lookup failed", zap.Error(err))
		return domain.User{}, s.reject(ReasonStoreError, ErrInternal)
	}
	if !user.IsActive {
		return domain.User{}, s.reject(ReasonInactive, ErrUnauthenticated)
	}
	return user, nil
}

func (s *AuthService) reject(reason string, kind error) error {
	telemetry.GateRejections.WithLabelValues(reason).Inc()
	return &GateError{Reason: reason, Err: kind}
}
