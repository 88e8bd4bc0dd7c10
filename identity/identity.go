// Package identity resolves the stable anonymous identity that keys the
// history collection.
//
// The first run performs an anonymous sign-up against the Identity
// Toolkit API and caches the resulting user id and refresh token in the
// data directory. Later runs exchange the cached refresh token for a
// fresh id token, so the identity (and with it the history) survives
// restarts. If the cached token is rejected the provider falls back to a
// fresh anonymous sign-up, which starts an empty history.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"gemchat/config"
)

const (
	defaultSignUpBase = "https://identitytoolkit.googleapis.com"
	defaultTokenBase  = "https://securetoken.googleapis.com"
)

// Provider issues and refreshes the anonymous identity for one firebase
// configuration. A configuration change means a new Provider.
type Provider struct {
	apiKey    string
	cachePath string
	rest      *resty.Client

	// Overridable in tests.
	signUpBase string
	tokenBase  string

	mu           sync.Mutex
	userID       string
	idToken      string
	refreshToken string
	expiry       time.Time
}

// NewProvider creates an identity provider for the given firebase
// configuration, caching credentials under dataDir.
func NewProvider(fb *config.FirebaseConfig, dataDir string) *Provider {
	client := resty.New()
	client.SetTimeout(30 * time.Second)

	return &Provider{
		apiKey:     fb.APIKey,
		cachePath:  filepath.Join(dataDir, "identity.json"),
		rest:       client,
		signUpBase: defaultSignUpBase,
		tokenBase:  defaultTokenBase,
	}
}

type cachedIdentity struct {
	UserID       string `json:"userId"`
	RefreshToken string `json:"refreshToken"`
}

type signUpResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	ExpiresIn    string `json:"expires_in"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Resolve returns the stable anonymous user id, signing up or refreshing
// as needed. It resolves at most once per provider; later calls return
// the cached id immediately.
func (p *Provider) Resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userID != "" {
		return p.userID, nil
	}

	if cached := p.loadCache(); cached != nil {
		if err := p.refreshLocked(ctx, cached.RefreshToken); err == nil {
			return p.userID, nil
		} else if config.DebugLog != nil {
			config.DebugLog.Printf("cached identity refresh failed, signing up fresh: %v", err)
		}
	}

	if err := p.signUpLocked(ctx); err != nil {
		return "", err
	}
	return p.userID, nil
}

// Token returns a valid id token for store requests, refreshing it
// transparently when it is about to expire. Resolve must have succeeded
// first.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userID == "" {
		return "", fmt.Errorf("identity not resolved")
	}
	if time.Until(p.expiry) > time.Minute {
		return p.idToken, nil
	}
	if err := p.refreshLocked(ctx, p.refreshToken); err != nil {
		return "", err
	}
	return p.idToken, nil
}

func (p *Provider) signUpLocked(ctx context.Context) error {
	var out signUpResponse
	var apiErr apiError

	resp, err := p.rest.R().
		SetContext(ctx).
		SetBody(map[string]bool{"returnSecureToken": true}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("%s/v1/accounts:signUp?key=%s", p.signUpBase, p.apiKey))
	if err != nil {
		return fmt.Errorf("anonymous sign-in failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("anonymous sign-in rejected: %s %s", resp.Status(), apiErr.Error.Message)
	}

	p.adopt(out.LocalID, out.IDToken, out.RefreshToken, out.ExpiresIn)
	p.saveCache()
	return nil
}

func (p *Provider) refreshLocked(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("no refresh token")
	}

	var out refreshResponse
	var apiErr apiError

	resp, err := p.rest.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("%s/v1/token?key=%s", p.tokenBase, p.apiKey))
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("token refresh rejected: %s %s", resp.Status(), apiErr.Error.Message)
	}

	p.adopt(out.UserID, out.IDToken, out.RefreshToken, out.ExpiresIn)
	p.saveCache()
	return nil
}

func (p *Provider) adopt(userID, idToken, refreshToken, expiresIn string) {
	p.userID = userID
	p.idToken = idToken
	p.refreshToken = refreshToken

	seconds, err := strconv.Atoi(expiresIn)
	if err != nil || seconds <= 0 {
		seconds = 3600
	}
	p.expiry = time.Now().Add(time.Duration(seconds) * time.Second)
}

func (p *Provider) loadCache() *cachedIdentity {
	data, err := os.ReadFile(p.cachePath)
	if err != nil {
		return nil
	}

	var cached cachedIdentity
	if err := json.Unmarshal(data, &cached); err != nil || cached.RefreshToken == "" {
		return nil
	}
	return &cached
}

func (p *Provider) saveCache() {
	data, err := json.MarshalIndent(cachedIdentity{
		UserID:       p.userID,
		RefreshToken: p.refreshToken,
	}, "", "  ")
	if err != nil {
		return
	}

	// 0600 - the refresh token grants access to this user's history
	if err := os.WriteFile(p.cachePath, data, 0600); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("failed to cache identity: %v", err)
	}
}
