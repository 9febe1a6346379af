package browser

import (
	"context"
	"time"
)

// Driver is the automation capability the publish stages need. ChromeDriver
// implements it with chromedp; tests use fakes.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	ElementPresent(ctx context.Context, selector string) (bool, error)
	SetInputValue(ctx context.Context, selector, value string) error
	SendKeys(ctx context.Context, selector, keys string) error
	SetUploadFiles(ctx context.Context, selector string, files []string) error
	Click(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Location(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

// Launcher starts a new driver connection.
type Launcher func(ctx context.Context) (Driver, error)

// Cookie is one persisted browser cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"-"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
}

// CredentialProvider supplies the identity loaded into a new session.
type CredentialProvider interface {
	LoadCookies(ctx context.Context) ([]Cookie, error)
}
