package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"avatar-api/internal/domain"
)

const defaultFacebookGraphURL = "https://graph.facebook.com"

// Facebook valida el token con debug_token usando el app access token y luego lee /me.
type Facebook struct {
	graphURL  string
	appID     string
	appSecret string
	client    *http.Client
}

func NewFacebook(graphURL, appID, appSecret string, httpClient *http.Client) *Facebook {
	if graphURL == "" {
		graphURL = defaultFacebookGraphURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Facebook{
		graphURL:  strings.TrimRight(graphURL, "/"),
		appID:     strings.TrimSpace(appID),
		appSecret: strings.TrimSpace(appSecret),
		client:    httpClient,
	}
}

func (f *Facebook) Provider() domain.Provider { return domain.ProviderFacebook }

func (f *Facebook) Verify(ctx context.Context, token string) (domain.Profile, error) {
	if f.appID == "" || f.appSecret == "" {
		return domain.Profile{}, errors.New("facebook: app credentials not configured")
	}

	debug, err := f.debugToken(ctx, token)
	if err != nil {
		return domain.Profile{}, err
	}
	if !debug.Data.IsValid {
		return domain.Profile{}, errors.New("facebook: token is not valid")
	}
	if debug.Data.AppID != f.appID {
		return domain.Profile{}, errors.New("facebook: token issued for another app")
	}

	me, err := f.me(ctx, token)
	if err != nil {
		return domain.Profile{}, err
	}
	if me.ID == "" {
		return domain.Profile{}, errors.New("facebook: id missing")
	}
	if debug.Data.UserID != "" && debug.Data.UserID != me.ID {
		return domain.Profile{}, errors.New("facebook: token user mismatch")
	}
	if me.Email == "" {
		return domain.Profile{}, errors.New("facebook: email missing")
	}

	return domain.Profile{
		Subject:  me.ID,
		Email:    me.Email,
		Name:     me.Name,
		PhotoURL: me.Picture.Data.URL,
	}, nil
}

func (f *Facebook) debugToken(ctx context.Context, token string) (facebookDebugResponse, error) {
	q := url.Values{}
	q.Set("input_token", token)
	q.Set("access_token", f.appID+"|"+f.appSecret)

	var out facebookDebugResponse
	err := getJSON(ctx, f.client, f.graphURL+"/debug_token?"+q.Encode(), &out)
	return out, err
}

// me usa el token del usuario como bearer a través de oauth2.
func (f *Facebook) me(ctx context.Context, token string) (facebookUser, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	var out facebookUser
	err := getJSON(ctx, client, f.graphURL+"/me?fields=id,name,email,picture", &out)
	return out, err
}

type facebookDebugResponse struct {
	Data struct {
		AppID   string `json:"app_id"`
		UserID  string `json:"user_id"`
		IsValid bool   `json:"is_valid"`
	} `json:"data"`
}

type facebookUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}
