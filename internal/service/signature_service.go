package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrSignatureExpired = errors.New("signature expired")
	ErrSigningFailed    = errors.New("signing failed")
)

// Tolerancia para timestamps emitidos por una instancia con el reloj adelantado.
const maxClockSkew = time.Minute

// SignatureService firma providerIds con HMAC-SHA256 y verifica firmas presentadas.
//
// Con maxAge == 0 la firma es el hex de HMAC(secret, providerId): determinista y sin
// vencimiento, solo se revoca rotando el secreto. Con maxAge > 0 el token es
// "<unix>.<hex>" y el HMAC cubre "providerId.<unix>".
type SignatureService struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewSignatureService(secret string, maxAge time.Duration) *SignatureService {
	if maxAge < 0 {
		maxAge = 0
	}
	return &SignatureService{
		secret: []byte(secret),
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Expiring indica si las firmas emitidas llevan timestamp.
func (s *SignatureService) Expiring() bool {
	return s.maxAge > 0
}

func (s *SignatureService) Sign(providerID string) (string, error) {
	if len(s.secret) == 0 || providerID == "" {
		return "", ErrSigningFailed
	}
	if !s.Expiring() {
		return s.mac(providerID), nil
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return ts + "." + s.mac(providerID+"."+ts), nil
}

func (s *SignatureService) Verify(providerID, presented string) bool {
	return s.Check(providerID, presented) == nil
}

// Check distingue firma inválida de firma vencida para logging; el cliente no ve la diferencia.
func (s *SignatureService) Check(providerID, presented string) error {
	if len(s.secret) == 0 || providerID == "" || presented == "" {
		return ErrSignatureInvalid
	}
	if !s.Expiring() {
		if !constantTimeEqual(presented, s.mac(providerID)) {
			return ErrSignatureInvalid
		}
		return nil
	}

	ts, _, ok := strings.Cut(presented, ".")
	if !ok {
		return ErrSignatureInvalid
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	expected := ts + "." + s.mac(providerID+"."+ts)
	if !constantTimeEqual(presented, expected) {
		return ErrSignatureInvalid
	}

	age := s.now().Sub(time.Unix(issued, 0))
	if age > s.maxAge || age < -maxClockSkew {
		return ErrSignatureExpired
	}
	return nil
}

func (s *SignatureService) mac(msg string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(msg))
	return hex.EncodeToString(h.Sum(nil))
}

// constantTimeEqual corta si las longitudes difieren. La longitud del token esperado
// es pública (64 hex, o timestamp + 65), así que ese corte no filtra el secreto.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
