package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"avatar-api/internal/domain"
)

const defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"

// Google valida id_tokens contra el endpoint tokeninfo.
type Google struct {
	tokenInfoURL string
	clientID     string
	client       *http.Client
}

// NewGoogle crea el verificador. Si clientID no es vacío se exige que coincida con aud.
func NewGoogle(tokenInfoURL, clientID string, httpClient *http.Client) *Google {
	if tokenInfoURL == "" {
		tokenInfoURL = defaultGoogleTokenInfoURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Google{
		tokenInfoURL: tokenInfoURL,
		clientID:     strings.TrimSpace(clientID),
		client:       httpClient,
	}
}

func (g *Google) Provider() domain.Provider { return domain.ProviderGoogle }

func (g *Google) Verify(ctx context.Context, token string) (domain.Profile, error) {
	var info googleTokenInfo
	endpoint := g.tokenInfoURL + "?id_token=" + url.QueryEscape(token)
	if err := getJSON(ctx, g.client, endpoint, &info); err != nil {
		return domain.Profile{}, err
	}

	if info.Sub == "" {
		return domain.Profile{}, errors.New("google: sub claim missing")
	}
	if info.Email == "" {
		return domain.Profile{}, errors.New("google: email claim missing")
	}
	// El email es la llave de vinculación entre proveedores.
	if !info.EmailVerified {
		return domain.Profile{}, errors.New("google: email not verified")
	}
	if g.clientID != "" && info.Aud != g.clientID {
		return domain.Profile{}, errors.New("google: audience mismatch")
	}

	return domain.Profile{
		Subject:  info.Sub,
		Email:    info.Email,
		Name:     info.Name,
		PhotoURL: info.Picture,
	}, nil
}

type googleTokenInfo struct {
	Sub           string    `json:"sub"`
	Aud           string    `json:"aud"`
	Email         string    `json:"email"`
	EmailVerified claimBool `json:"email_verified"`
	Name          string    `json:"name"`
	Picture       string    `json:"picture"`
}

// claimBool acepta true o "true"; tokeninfo devuelve los booleanos como string.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = claimBool(strings.EqualFold(s, "true"))
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		// null u otro tipo: no verificado.
		*b = false
		return nil
	}
	*b = claimBool(v)
	return nil
}
