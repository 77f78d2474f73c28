package authagent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formsPage = `<!doctype html>
<html><body>
<form id="first" method="post" action="/submit">
  <input type="hidden" name="token" value="abc">
  <input type="text" name="name">
  <input type="checkbox" name="keep" checked>
  <input type="checkbox" name="skip" value="yes">
  <input type="submit" name="go" value="Go">
  <textarea name="note">hello</textarea>
</form>
<form action="/search">
  <input name="q" value="parcels">
</form>
<form method="post" action="/switch-portal"><input type="hidden" name="portal" value="driver"></form>
<form method="post" action="/switch-portal"><input type="hidden" name="portal" value="customer"></form>
</body></html>`

func newFormServer(t *testing.T, got chan<- *http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, formsPage)
		case "/old":
			http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1", Path: "/"})
			http.Redirect(w, r, "/", http.StatusSeeOther)
		default:
			_ = r.ParseForm()
			got <- r
			_, _ = io.WriteString(w, "done")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBrowser_Forms(t *testing.T) {
	srv := newFormServer(t, nil)
	b, err := NewBrowser(BrowserConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, b.Goto(context.Background(), "/"))

	forms := b.Forms()
	require.Len(t, forms, 4)

	first := forms[0]
	assert.Equal(t, "first", first.ID)
	assert.Equal(t, http.MethodPost, first.Method)
	assert.Equal(t, url.Values{
		"token": {"abc"},
		"name":  {""},
		"keep":  {"on"},
		"note":  {"hello"},
	}, first.Fields)

	assert.Equal(t, http.MethodGet, forms[1].Method)

	f, ok := b.FindForm(ByField("/switch-portal", "portal", "customer"))
	require.True(t, ok)
	assert.Equal(t, "customer", f.Fields.Get("portal"))

	_, ok = b.FindForm(ByID("missing"))
	assert.False(t, ok)
}

func TestBrowser_SubmitForm(t *testing.T) {
	got := make(chan *http.Request, 1)
	srv := newFormServer(t, got)
	b, err := NewBrowser(BrowserConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Goto(ctx, "/"))
	require.NoError(t, b.SubmitForm(ctx, ByID("first"), map[string]string{"name": "Sam"}))
	r := <-got
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "abc", r.PostForm.Get("token"))
	assert.Equal(t, "Sam", r.PostForm.Get("name"))
	assert.Equal(t, "/submit", b.URL().Path)
	assert.Equal(t, "done", b.Body())

	require.NoError(t, b.Goto(ctx, "/"))
	require.NoError(t, b.SubmitForm(ctx, ByField("/search", "q", "parcels"), nil))
	r = <-got
	assert.Equal(t, http.MethodGet, r.Method)
	assert.Equal(t, "parcels", r.URL.Query().Get("q"))

	assert.ErrorIs(t, b.SubmitForm(ctx, ByID("missing"), nil), ErrFormNotFound)
}

func TestBrowser_FollowsRedirectsAndKeepsCookies(t *testing.T) {
	srv := newFormServer(t, nil)
	b, err := NewBrowser(BrowserConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorContains(t, b.Reload(ctx), "no page loaded")
	require.NoError(t, b.Goto(ctx, "/old"))
	assert.Equal(t, "/", b.URL().Path)
	assert.Equal(t, http.StatusOK, b.Status())

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	cookies := b.HTTPClient().Jar.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "seen", cookies[0].Name)

	require.NoError(t, b.Navigate(ctx, "/"))
	require.NoError(t, b.Reload(ctx))
	assert.Equal(t, "/", b.URL().Path)
}

func TestNewBrowser_RejectsBadURL(t *testing.T) {
	_, err := NewBrowser(BrowserConfig{BaseURL: "::nope"})
	require.Error(t, err)
	_, err = NewBrowser(BrowserConfig{BaseURL: "/relative"})
	require.Error(t, err)
}
