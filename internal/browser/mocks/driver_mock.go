package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/copyleftdev/postscry/internal/browser"
)

// MockDriver implements browser.Driver in memory. Element presence, text and
// location are scripted; every call is recorded.
type MockDriver struct {
	mu       sync.Mutex
	calls    []string
	present  map[string]bool
	texts    map[string]string
	failures map[string]error
	location string
	html     string
	cookies  []browser.Cookie
	uploads  [][]string
	closed   bool

	// OnCall runs after each recorded call, outside the lock. Tests use it
	// to flip page state, e.g. show a success marker after a click.
	OnCall func(call string)
}

func NewMockDriver() *MockDriver {
	return &MockDriver{
		present:  make(map[string]bool),
		texts:    make(map[string]string),
		failures: make(map[string]error),
		location: "about:blank",
		html:     "<html><body></body></html>",
	}
}

func (m *MockDriver) record(format string, args ...any) error {
	call := fmt.Sprintf(format, args...)
	m.mu.Lock()
	m.calls = append(m.calls, call)
	var err error
	for prefix, e := range m.failures {
		if strings.HasPrefix(call, prefix) {
			err = e
			break
		}
	}
	hook := m.OnCall
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return err
}

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record("navigate %s", url); err != nil {
		return err
	}
	m.mu.Lock()
	m.location = url
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) ElementPresent(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := m.record("present %s", selector); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present[selector], nil
}

func (m *MockDriver) SetInputValue(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.record("value %s %s", selector, value)
}

func (m *MockDriver) SendKeys(ctx context.Context, selector, keys string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.record("keys %s %s", selector, keys)
}

func (m *MockDriver) SetUploadFiles(ctx context.Context, selector string, files []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record("upload %s %s", selector, strings.Join(files, ",")); err != nil {
		return err
	}
	m.mu.Lock()
	m.uploads = append(m.uploads, append([]string(nil), files...))
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.record("click %s", selector)
}

func (m *MockDriver) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.record("text %s", selector); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[selector], nil
}

func (m *MockDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if err := m.record("attr %s %s", selector, name); err != nil {
		return "", false, err
	}
	return "", false, nil
}

func (m *MockDriver) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.location, nil
}

func (m *MockDriver) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.html, nil
}

func (m *MockDriver) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.record("cookies %d", len(cookies)); err != nil {
		return err
	}
	m.mu.Lock()
	m.cookies = append(m.cookies, cookies...)
	m.mu.Unlock()
	return nil
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetPresent scripts whether selector matches an element.
func (m *MockDriver) SetPresent(selector string, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present[selector] = present
}

func (m *MockDriver) SetText(selector, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts[selector] = text
}

func (m *MockDriver) SetLocation(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.location = url
}

func (m *MockDriver) SetHTML(html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.html = html
}

// FailOn makes every call whose recorded form starts with prefix return err,
// e.g. FailOn("click .publishBtn", err).
func (m *MockDriver) FailOn(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = err
}

// Calls returns the recorded calls in order.
func (m *MockDriver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallsWithPrefix returns the recorded calls starting with prefix.
func (m *MockDriver) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockDriver) Uploads() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.uploads...)
}

func (m *MockDriver) Cookies() []browser.Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]browser.Cookie(nil), m.cookies...)
}

func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockLauncher hands out drivers built by New and counts launches.
type MockLauncher struct {
	New      func() *MockDriver
	Err      error
	launches atomic.Int32
	mu       sync.Mutex
	last     *MockDriver
}

func (l *MockLauncher) Launch(ctx context.Context) (browser.Driver, error) {
	l.launches.Add(1)
	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	newFn := l.New
	if newFn == nil {
		newFn = NewMockDriver
	}
	d := newFn()
	l.mu.Lock()
	l.last = d
	l.mu.Unlock()
	return d, nil
}

func (l *MockLauncher) Launches() int { return int(l.launches.Load()) }

// Last returns the most recently launched driver.
func (l *MockLauncher) Last() *MockDriver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// StaticCredentials returns a fixed cookie set, or Err.
type StaticCredentials struct {
	Cookies []browser.Cookie
	Err     error
}

func (s StaticCredentials) LoadCookies(context.Context) ([]browser.Cookie, error) {
	return s.Cookies, s.Err
}
