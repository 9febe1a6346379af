package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/copyleftdev/postscry/internal/apperr"
)

// FileCredentialProvider reads cookies exported by a browser extension or by
// the login helper. Both a bare JSON array and {"cookies": [...]} are accepted.
type FileCredentialProvider struct {
	Path          string
	DefaultDomain string // applied to cookies without a domain
}

type cookieRecord struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Expires        *float64 `json:"expires"`
	ExpirationDate *float64 `json:"expirationDate"`
	HTTPOnly       bool     `json:"httpOnly"`
	Secure         bool     `json:"secure"`
	SameSite       string   `json:"sameSite"`
}

type cookieFile struct {
	Cookies []cookieRecord `json:"cookies"`
	Domain  string         `json:"domain"`
}

func (p *FileCredentialProvider) LoadCookies(_ context.Context) ([]Cookie, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCredential, err, "reading cookie file %s", p.Path)
	}
	cookies, err := ParseCookies(data, p.DefaultDomain)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCredential, err, "parsing cookie file %s", p.Path)
	}
	if len(cookies) == 0 {
		return nil, apperr.New(apperr.KindCredential, "cookie file %s holds no cookies", p.Path)
	}
	return cookies, nil
}

// ParseCookies decodes a cookie document. Expired cookies are dropped.
func ParseCookies(data []byte, defaultDomain string) ([]Cookie, error) {
	data = bytes.TrimSpace(data)
	var (
		records []cookieRecord
		domain  = defaultDomain
	)
	switch {
	case bytes.HasPrefix(data, []byte("[")):
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
	case bytes.HasPrefix(data, []byte("{")):
		var f cookieFile
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		records = f.Cookies
		if f.Domain != "" {
			domain = f.Domain
		}
	default:
		return nil, fmt.Errorf("unrecognized cookie document")
	}

	now := time.Now()
	cookies := make([]Cookie, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		c := Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			HTTPOnly: r.HTTPOnly,
			Secure:   r.Secure,
			SameSite: r.SameSite,
		}
		if c.Domain == "" {
			c.Domain = domain
		}
		exp := r.Expires
		if exp == nil {
			exp = r.ExpirationDate
		}
		// -1 marks a session cookie
		if exp != nil && *exp > 0 {
			sec, frac := math.Modf(*exp)
			c.Expires = time.Unix(int64(sec), int64(frac*1e9))
			if c.Expires.Before(now) {
				continue
			}
		}
		cookies = append(cookies, c)
	}
	return cookies, nil
}
