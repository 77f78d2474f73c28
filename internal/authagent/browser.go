package authagent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shipnorth/portal-auth/internal/sessionclient"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPageBody = 4 << 20

// ErrFormNotFound is returned when the current page has no matching form.
var ErrFormNotFound = errors.New("form not found")

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	BaseURL string
	Timeout time.Duration
	// Transport is optional; http.DefaultTransport is used when nil.
	Transport http.RoundTripper
}

// Browser is a minimal cookie-keeping page client that follows redirects and submits
// HTML forms. It is not safe for concurrent use.
type Browser struct {
	base   *url.URL
	client *http.Client

	current *url.URL
	status  int
	body    []byte
}

// NewBrowser returns a Browser with an empty cookie jar.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	jar, err := sessionclient.NewJar()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = sessionclient.DefaultTimeout
	}
	return &Browser{
		base:   base,
		client: &http.Client{Jar: jar, Timeout: timeout, Transport: cfg.Transport},
	}, nil
}

// HTTPClient returns the client holding the browser's cookie jar.
func (b *Browser) HTTPClient() *http.Client { return b.client }

// BaseURL returns the service root.
func (b *Browser) BaseURL() *url.URL { return b.base }

// URL returns the address of the current page after redirects, or nil before any load.
func (b *Browser) URL() *url.URL { return b.current }

// Status returns the status code of the current page.
func (b *Browser) Status() int { return b.status }

// Body returns the current page's HTML.
func (b *Browser) Body() string { return string(b.body) }

// Goto loads path (relative to the base URL) and follows redirects.
func (b *Browser) Goto(ctx context.Context, path string) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", path, err)
	}
	return b.load(ctx, http.MethodGet, b.base.ResolveReference(ref), nil)
}

// Navigate implements portalswitch.Navigator.
func (b *Browser) Navigate(ctx context.Context, path string) error { return b.Goto(ctx, path) }

// Reload loads the current page again.
func (b *Browser) Reload(ctx context.Context) error {
	if b.current == nil {
		return errors.New("reload: no page loaded")
	}
	return b.load(ctx, http.MethodGet, b.current, nil)
}

// Form is a form found on the current page.
type Form struct {
	ID     string
	Action string
	Method string
	Fields url.Values
}

// FormMatcher selects a form.
type FormMatcher func(Form) bool

// ByID matches the form with the given id attribute.
func ByID(id string) FormMatcher {
	return func(f Form) bool { return f.ID == id }
}

// ByField matches forms posting to action with field set to value.
func ByField(action, field, value string) FormMatcher {
	return func(f Form) bool { return f.Action == action && f.Fields.Get(field) == value }
}

// Forms returns every form on the current page.
func (b *Browser) Forms() []Form {
	doc, err := html.Parse(bytes.NewReader(b.body))
	if err != nil {
		return nil
	}
	var forms []Form
	var walk func(n *html.Node, form *Form)
	walk = func(n *html.Node, form *Form) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Form:
				f := Form{
					ID:     attr(n, "id"),
					Action: attr(n, "action"),
					Method: strings.ToUpper(attr(n, "method")),
					Fields: url.Values{},
				}
				if f.Method == "" {
					f.Method = http.MethodGet
				}
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					walk(c, &f)
				}
				forms = append(forms, f)
				return
			case atom.Input:
				if form != nil {
					addInput(form, n)
				}
			case atom.Textarea:
				if form != nil && attr(n, "name") != "" {
					form.Fields.Add(attr(n, "name"), textContent(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, form)
		}
	}
	walk(doc, nil)
	return forms
}

// FindForm returns the first form matched by m.
func (b *Browser) FindForm(m FormMatcher) (Form, bool) {
	for _, f := range b.Forms() {
		if m(f) {
			return f, true
		}
	}
	return Form{}, false
}

// SubmitForm fills the matched form with values and submits it, following redirects.
func (b *Browser) SubmitForm(ctx context.Context, m FormMatcher, values map[string]string) error {
	f, ok := b.FindForm(m)
	if !ok {
		return ErrFormNotFound
	}
	fields := url.Values{}
	for k, v := range f.Fields {
		fields[k] = append([]string(nil), v...)
	}
	for k, v := range values {
		fields.Set(k, v)
	}

	ref, err := url.Parse(f.Action)
	if err != nil {
		return fmt.Errorf("parse form action %q: %w", f.Action, err)
	}
	target := b.current
	if target == nil {
		target = b.base
	}
	target = target.ResolveReference(ref)

	if f.Method == http.MethodGet {
		target.RawQuery = fields.Encode()
		return b.load(ctx, http.MethodGet, target, nil)
	}
	return b.load(ctx, http.MethodPost, target, fields)
}

func (b *Browser) load(ctx context.Context, method string, u *url.URL, form url.Values) error {
	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return fmt.Errorf("read %s: %w", u.Path, err)
	}
	b.current = resp.Request.URL
	b.status = resp.StatusCode
	b.body = data
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func addInput(f *Form, n *html.Node) {
	name := attr(n, "name")
	if name == "" {
		return
	}
	switch strings.ToLower(attr(n, "type")) {
	case "submit", "button", "image", "reset", "file":
		return
	case "checkbox", "radio":
		if !hasAttr(n, "checked") {
			return
		}
		v := attr(n, "value")
		if v == "" {
			v = "on"
		}
		f.Fields.Add(name, v)
	default:
		f.Fields.Add(name, attr(n, "value"))
	}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
