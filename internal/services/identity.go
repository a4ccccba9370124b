package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// SignInFlag is the query flag the sign-in page shows as a warning.
type SignInFlag string

const (
	FlagOAuthFailed SignInFlag = "oauthFailed"
	FlagOAuthDenied SignInFlag = "oauthDenied"
	FlagWrongCampus SignInFlag = "wrongCampus"
	FlagNotStudent  SignInFlag = "notStudent"
	FlagAPIError    SignInFlag = "apiError"
)

// SignInFlags lists every flag in display order.
var SignInFlags = []SignInFlag{FlagOAuthFailed, FlagOAuthDenied, FlagWrongCampus, FlagNotStudent, FlagAPIError}

// SignInError ends a sign-in attempt without a session.
type SignInError struct {
	Flag SignInFlag
	Err  error
}

func (e *SignInError) Error() string {
	if e.Err == nil {
		return "sign-in failed: " + string(e.Flag)
	}
	return fmt.Sprintf("sign-in failed (%s): %v", e.Flag, e.Err)
}

func (e *SignInError) Unwrap() error {
	return e.Err
}

// Profile is the subset of the provider's /me document we rely on.
type Profile struct {
	Login       string       `json:"login"`
	Image       ProfileImage `json:"image"`
	CampusUsers []struct {
		CampusID  int  `json:"campus_id"`
		IsPrimary bool `json:"is_primary"`
	} `json:"campus_users"`
	CursusUsers []struct {
		CursusID int `json:"cursus_id"`
	} `json:"cursus_users"`
}

// ProfileImage accepts either a bare URL or an object with a link field.
type ProfileImage string

func (p *ProfileImage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = ProfileImage(s)
		return nil
	}
	var obj struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = ProfileImage(obj.Link)
	return nil
}

type IdentityConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	APIURL       string
	RedirectURL  string
	CampusID     int
	CursusID     int
	Timeout      time.Duration
}

// IdentityGateway turns an authorization code into a verified campus login.
type IdentityGateway struct {
	oauth    *oauth2.Config
	apiURL   string
	campusID int
	cursusID int
	client   *http.Client
}

func NewIdentityGateway(cfg IdentityConfig) *IdentityGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IdentityGateway{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"public"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
		campusID: cfg.CampusID,
		cursusID: cfg.CursusID,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *IdentityGateway) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Authenticate exchanges the code, fetches the profile and applies the campus
// and cursus gates. Every failure is a *SignInError.
func (g *IdentityGateway) Authenticate(ctx context.Context, code string) (*Profile, error) {
	if code == "" {
		return nil, &SignInError{Flag: FlagOAuthFailed, Err: errors.New("missing authorization code")}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, &SignInError{Flag: FlagOAuthFailed, Err: err}
	}

	profile, err := g.fetchProfile(ctx, token)
	if err != nil {
		return nil, &SignInError{Flag: FlagAPIError, Err: err}
	}

	if err := g.checkEnrollment(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (g *IdentityGateway) fetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+"/me", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("profile request returned %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if profile.Login == "" {
		return nil, errors.New("profile has no login")
	}
	return &profile, nil
}

func (g *IdentityGateway) checkEnrollment(p *Profile) error {
	onCampus := false
	for _, cu := range p.CampusUsers {
		if cu.IsPrimary && cu.CampusID == g.campusID {
			onCampus = true
			break
		}
	}
	if !onCampus {
		return &SignInError{Flag: FlagWrongCampus, Err: fmt.Errorf("%s is not primarily on campus %d", p.Login, g.campusID)}
	}

	for _, cu := range p.CursusUsers {
		if cu.CursusID == g.cursusID {
			return nil
		}
	}
	return &SignInError{Flag: FlagNotStudent, Err: fmt.Errorf("%s is not enrolled in cursus %d", p.Login, g.cursusID)}
}
