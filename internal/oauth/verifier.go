package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"avatar-api/internal/domain"
	"avatar-api/internal/telemetry"
)

// ErrInvalidCredential cubre token rechazado, proveedor caído, timeout y payload inválido.
var ErrInvalidCredential = errors.New("invalid provider credential")

const maxResponseBytes = 1 << 20

// Verifier valida un token emitido por un proveedor y devuelve sus claims.
type Verifier interface {
	Provider() domain.Provider
	Verify(ctx context.Context, token string) (domain.Profile, error)
}

// Registry despacha por tipo de proveedor y normaliza cualquier fallo a ErrInvalidCredential.
type Registry struct {
	verifiers map[domain.Provider]Verifier
	timeout   time.Duration
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger, timeout time.Duration, verifiers ...Verifier) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Registry{
		verifiers: make(map[domain.Provider]Verifier, len(verifiers)),
		timeout:   timeout,
		logger:    logger,
	}
	for _, v := range verifiers {
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Supports indica si hay un verificador registrado para el proveedor.
func (r *Registry) Supports(provider domain.Provider) bool {
	_, ok := r.verifiers[provider]
	return ok
}

func (r *Registry) Verify(ctx context.Context, provider domain.Provider, token string) (domain.Profile, error) {
	v, ok := r.verifiers[provider]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: unsupported provider %q", ErrInvalidCredential, provider)
	}
	if token == "" {
		return domain.Profile{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	profile, err := v.Verify(ctx, token)
	telemetry.ProviderVerifyDuration.WithLabelValues(provider.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("provider verification failed",
			zap.String("provider", provider.String()),
			zap.String("token_prefix", tokenPrefix(token)),
			zap.Error(err),
		)
		if errors.Is(err, ErrInvalidCredential) {
			return domain.Profile{}, err
		}
		return domain.Profile{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if profile.Subject == "" || profile.Email == "" {
		return domain.Profile{}, fmt.Errorf("%w: missing subject or email", ErrInvalidCredential)
	}
	return profile, nil
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}

// getJSON hace un GET y decodifica una respuesta 2xx en out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{status: resp.StatusCode, body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider http error: status=%d body=%s", e.status, e.body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
