package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"avatar-api/internal/domain"
	"avatar-api/internal/repository"
	"avatar-api/internal/telemetry"
)

const (
	reconcileAttempts = 3
	reconcileBackoff  = 25 * time.Millisecond
)

// IdentityService reconcilia perfiles verificados con usuarios persistidos.
type IdentityService struct {
	logger  *zap.Logger
	users   repository.UserRepository
	cache   IdentityCache
	backoff func() retry.Backoff
	now     func() time.Time
}

func NewIdentityService(logger *zap.Logger, users repository.UserRepository, cache IdentityCache) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewNoopIdentityCache()
	}
	return &IdentityService{
		logger: logger,
		users:  users,
		cache:  cache,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(reconcileAttempts-1, retry.NewConstant(reconcileBackoff))
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

type reconcileOutcome struct {
	user   domain.User
	result string
	// providerId anterior cuando la cuenta cambió de proveedor.
	previousProviderID string
}

// ResolveOrCreate busca por (provider, subject), luego por email, y si no existe crea el usuario.
// Las violaciones de unicidad por carreras entre logins concurrentes reintentan la secuencia completa.
func (s *IdentityService) ResolveOrCreate(ctx context.Context, provider domain.Provider, profile domain.Profile) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("identity service not configured")
	}

	subject := strings.TrimSpace(profile.Subject)
	emailAddr := normalizeEmail(profile.Email)
	if provider == "" || subject == "" || emailAddr == "" {
		return domain.User{}, ErrInvalidCredential
	}
	profile = domain.Profile{
		Subject:  subject,
		Email:    emailAddr,
		Name:     strings.TrimSpace(profile.Name),
		PhotoURL: strings.TrimSpace(profile.PhotoURL),
	}

	attempt := 0
	out, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (reconcileOutcome, error) {
		attempt++
		if attempt > 1 {
			telemetry.Reconciliations.WithLabelValues("retried").Inc()
			s.logger.Info("retrying identity reconciliation",
				zap.String("provider", provider.String()),
				zap.Int("attempt", attempt),
			)
		}
		o, err := s.reconcile(ctx, provider, profile)
		if errors.Is(err, repository.ErrConflict) {
			return o, retry.RetryableError(err)
		}
		return o, err
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Error("identity reconciliation exhausted retries",
				zap.String("provider", provider.String()),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
		} else {
			s.logger.Error("identity reconciliation failed", zap.String("provider", provider.String()), zap.Error(err))
		}
		return domain.User{}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	telemetry.Reconciliations.WithLabelValues(out.result).Inc()
	s.cache.Invalidate(ctx, out.user.ProviderID, out.previousProviderID)
	if out.result == "linked" {
		s.logger.Info("account linked to new provider",
			zap.String("user_id", out.user.ID),
			zap.String("provider", provider.String()),
		)
	}
	return out.user, nil
}

func (s *IdentityService) reconcile(ctx context.Context, provider domain.Provider, profile domain.Profile) (reconcileOutcome, error) {
	update := repository.IdentityUpdate{
		Provider:   provider,
		ProviderID: profile.Subject,
		Name:       profile.Name,
		PhotoURL:   profile.PhotoURL,
	}

	existing, err := s.users.GetByProvider(ctx, provider, profile.Subject)
	if err == nil {
		user, err := s.updateIdentity(ctx, existing.ID, update)
		if err != nil {
			return reconcileOutcome{}, err
		}
		return reconcileOutcome{user: user, result: "updated"}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return reconcileOutcome{}, err
	}

	byEmail, err := s.users.GetByEmail(ctx, profile.Email)
	if err == nil {
		// La cuenta pasa a pertenecer al proveedor actual; el vínculo anterior se pierde.
		user, err := s.updateIdentity(ctx, byEmail.ID, update)
		if err != nil {
			return reconcileOutcome{}, err
		}
		return reconcileOutcome{user: user, result: "linked", previousProviderID: byEmail.ProviderID}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return reconcileOutcome{}, err
	}

	now := s.now()
	user := domain.User{
		ID:         uuid.NewString(),
		Email:      profile.Email,
		Name:       profile.Name,
		PhotoURL:   profile.PhotoURL,
		Provider:   provider,
		ProviderID: profile.Subject,
		IsActive:   true,
		Score:      domain.DefaultScore,
		Level:      domain.DefaultLevel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return reconcileOutcome{}, err
	}
	return reconcileOutcome{user: user, result: "created"}, nil
}

// updateIdentity trata la desaparición de la fila entre lectura y escritura como conflicto.
func (s *IdentityService) updateIdentity(ctx context.Context, id string, update repository.IdentityUpdate) (domain.User, error) {
	user, err := s.users.UpdateIdentity(ctx, id, update)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, fmt.Errorf("%w: %w", repository.ErrConflict, err)
	}
	return user, err
}

// Lookup resuelve el usuario dueño de un providerId. El cache solo aporta el id;
// la fila se relee siempre y se descarta la entrada si ya no es dueña del providerId.
func (s *IdentityService) Lookup(ctx context.Context, providerID string) (domain.User, error) {
	if userID, ok := s.cache.Get(ctx, providerID); ok {
		user, err := s.users.GetByID(ctx, userID)
		switch {
		case err == nil && user.ProviderID == providerID:
			return user, nil
		case err == nil, errors.Is(err, repository.ErrNotFound):
			s.cache.Invalidate(ctx, providerID)
		default:
			return domain.User{}, err
		}
	}
	user, err := s.users.GetByProviderID(ctx, providerID)
	if err != nil {
		return domain.User{}, err
	}
	s.cache.Set(ctx, providerID, user.ID)
	return user, nil
}

// SetActive activa o desactiva la cuenta dueña del providerId e invalida el cache.
func (s *IdentityService) SetActive(ctx context.Context, providerID string, active bool) (domain.User, error) {
	user, err := s.users.GetByProviderID(ctx, providerID)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.users.SetActive(ctx, user.ID, active); err != nil {
		return domain.User{}, err
	}
	s.cache.Invalidate(ctx, providerID)
	user.IsActive = active
	s.logger.Info("user activation changed",
		zap.String("user_id", user.ID),
		zap.Bool("active", active),
	)
	return user, nil
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
