package contact

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

// fakeSession is one caller's session.
type fakeSession struct {
	last    time.Time
	has     bool
	readErr error
	writes  int
}

func (f *fakeSession) LastSubmit(r *http.Request) (time.Time, bool, error) {
	if f.readErr != nil {
		return time.Time{}, false, f.readErr
	}
	return f.last, f.has, nil
}

func (f *fakeSession) SetLastSubmit(w http.ResponseWriter, r *http.Request, t time.Time) error {
	f.last, f.has = t, true
	f.writes++
	return nil
}

type fakeTransport struct {
	sendFunc func(ctx context.Context, m *Message) error
	calls    int
	last     *Message
}

func (f *fakeTransport) Send(ctx context.Context, m *Message) error {
	f.calls++
	f.last = m
	if f.sendFunc != nil {
		return f.sendFunc(ctx, m)
	}
	return nil
}

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func newTestHandler(t *testing.T, sess SessionStore, tr Transport, opts ...Option) *Handler {
	t.Helper()
	cfg := Config{
		To:            "inbox@example.com",
		SubjectPrefix: "Contact Form",
		Locale:        "en",
	}
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	h, err := New(cfg, sess, tr, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func validForm() url.Values {
	return url.Values{
		"firstName": {"Ann"},
		"lastName":  {"Lee"},
		"email":     {"ann@example.com"},
		"message":   {"Hello"},
	}
}

func post(h http.Handler, v url.Values) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return serve(h, req)
}

func serve(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, Response) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp Response
	_ = json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&resp)
	return rec, resp
}

// ---------------------------------------------------------------------------
// outcomes
// ---------------------------------------------------------------------------

func TestHandler_ValidSubmission(t *testing.T) {
	sess := &fakeSession{}
	tr := &fakeTransport{}
	h := newTestHandler(t, sess, tr)

	rec, resp := post(h, validForm())

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !resp.OK {
		t.Fatalf("expected ok=true, got %+v", resp)
	}
	if resp.Message != english.text(textThanks) {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if tr.calls != 1 {
		t.Fatalf("expected 1 delivery, got %d", tr.calls)
	}
	if !sess.has || !sess.last.Equal(testNow) {
		t.Errorf("expected marker %v, got %v (set=%v)", testNow, sess.last, sess.has)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
		t.Errorf("expected json content type, got %q", got)
	}
	m := tr.last
	if m.To != "inbox@example.com" {
		t.Errorf("To = %q", m.To)
	}
	if m.ReplyTo.Address != "ann@example.com" {
		t.Errorf("Reply-To = %q", m.ReplyTo.Address)
	}
	if m.From.Address != "no-reply@example.com" {
		t.Errorf("From = %q", m.From.Address)
	}
	if m.Subject != "Contact Form — Ann Lee" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if h.Stats().Accepted != 1 {
		t.Errorf("accepted counter = %d", h.Stats().Accepted)
	}
}

func TestHandler_DeliveryFailure(t *testing.T) {
	sess := &fakeSession{}
	tr := &fakeTransport{sendFunc: func(ctx context.Context, m *Message) error {
		return errors.New("connection refused")
	}}
	h := newTestHandler(t, sess, tr)

	rec, resp := post(h, validForm())

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp.OK {
		t.Fatal("expected ok=false")
	}
	if !strings.Contains(resp.Message, "inbox@example.com") {
		t.Errorf("message should name the destination, got %q", resp.Message)
	}
	if sess.has || sess.writes != 0 {
		t.Error("marker must not be written when delivery fails")
	}
	if h.Stats().Undelivered != 1 {
		t.Errorf("undelivered counter = %d", h.Stats().Undelivered)
	}
}

func TestHandler_RateLimitWithinWindow(t *testing.T) {
	sess := &fakeSession{}
	tr := &fakeTransport{}
	h := newTestHandler(t, sess, tr)

	if _, resp := post(h, validForm()); !resp.OK {
		t.Fatalf("first submission should pass, got %+v", resp)
	}
	rec, resp := post(h, validForm())
	if rec.Code != http.StatusBadRequest || resp.OK {
		t.Fatalf("second submission should be rejected, got %d %+v", rec.Code, resp)
	}
	if resp.Message != english.text(textTooSoon) {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.Errors != nil {
		t.Errorf("too-soon carries no field errors, got %v", resp.Errors)
	}
	if tr.calls != 1 {
		t.Errorf("expected 1 delivery, got %d", tr.calls)
	}
}

func TestHandler_RateLimitAfterWindow(t *testing.T) {
	sess := &fakeSession{last: testNow.Add(-DefaultWindow), has: true}
	h := newTestHandler(t, sess, &fakeTransport{})

	if _, resp := post(h, validForm()); !resp.OK {
		t.Fatalf("window elapsed, expected ok, got %+v", resp)
	}
}

func TestHandler_RateLimitRunsBeforeMethodCheck(t *testing.T) {
	sess := &fakeSession{last: testNow.Add(-time.Second), has: true}
	h := newTestHandler(t, sess, &fakeTransport{})

	_, resp := serve(h, httptest.NewRequest(http.MethodGet, "/contact", nil))
	if resp.Message != english.text(textTooSoon) {
		t.Errorf("expected too-soon before method check, got %q", resp.Message)
	}
}

func TestHandler_SessionReadErrorIsNoMarker(t *testing.T) {
	sess := &fakeSession{readErr: errors.New("store down")}
	h := newTestHandler(t, sess, &fakeTransport{})

	if _, resp := post(h, validForm()); !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
}

func TestHandler_MethodNotPost(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHandler(t, &fakeSession{}, tr)

	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec, resp := serve(h, httptest.NewRequest(m, "/contact", nil))
		if rec.Code != http.StatusBadRequest || resp.OK {
			t.Errorf("%s: expected 400 ok=false, got %d %+v", m, rec.Code, resp)
		}
		if resp.Message != english.text(textBadMethod) {
			t.Errorf("%s: unexpected message %q", m, resp.Message)
		}
	}
	if tr.calls != 0 {
		t.Error("no delivery expected")
	}
}

func TestHandler_Origin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"absent", "", true},
		{"same host", "http://example.com", true},
		{"same host other scheme", "https://example.com", true},
		{"same host default port", "https://example.com:443", true},
		{"same host other port", "http://example.com:9999", false},
		{"other host", "https://evil.test", false},
		{"null", "null", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeSession{}, &fakeTransport{})
			req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(validForm().Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			_, resp := serve(h, req)
			if resp.OK != tt.ok {
				t.Fatalf("expected ok=%v, got %+v", tt.ok, resp)
			}
			if !tt.ok && resp.Message != english.text(textCrossOrigin) {
				t.Errorf("unexpected message %q", resp.Message)
			}
		})
	}
}

func TestHandler_HoneypotAlwaysSucceeds(t *testing.T) {
	inputs := []url.Values{
		validForm(),
		{},
		{"email": {"not-an-email"}},
	}
	for i, v := range inputs {
		sess := &fakeSession{}
		tr := &fakeTransport{}
		bots := 0
		h := newTestHandler(t, sess, tr, WithBotHook(func(*http.Request) { bots++ }))

		v.Set("website", "http://spam.example")
		rec, resp := post(h, v)

		if rec.Code != http.StatusOK || !resp.OK {
			t.Errorf("input %d: expected 200 ok=true, got %d %+v", i, rec.Code, resp)
		}
		if resp.Message != english.text(textThanks) {
			t.Errorf("input %d: bot answer should match a real success, got %q", i, resp.Message)
		}
		if tr.calls != 0 {
			t.Errorf("input %d: honeypot must not deliver", i)
		}
		if sess.has {
			t.Errorf("input %d: honeypot must not write the marker", i)
		}
		if bots != 1 {
			t.Errorf("input %d: bot hook called %d times", i, bots)
		}
	}
}

func TestHandler_HoneypotOfWhitespaceIsIgnored(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHandler(t, &fakeSession{}, tr)
	v := validForm()
	v.Set("website", " \t\x00 ")
	if _, resp := post(h, v); !resp.OK || tr.calls != 1 {
		t.Fatalf("blank honeypot should be ignored, got %+v calls=%d", resp, tr.calls)
	}
}

func TestHandler_AllEmptyFieldsReportedTogether(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHandler(t, &fakeSession{}, tr)

	rec, resp := post(h, url.Values{"firstName": {"   "}, "phone": {""}})

	if rec.Code != http.StatusBadRequest || resp.OK {
		t.Fatalf("expected 400 ok=false, got %d %+v", rec.Code, resp)
	}
	if resp.Message != english.text(textFixErrors) {
		t.Errorf("unexpected message %q", resp.Message)
	}
	for _, f := range []string{FieldFirstName, FieldLastName, FieldEmail, FieldMessage} {
		if resp.Errors[f] == "" {
			t.Errorf("missing error for %s in %v", f, resp.Errors)
		}
	}
	if _, ok := resp.Errors[FieldPhone]; ok {
		t.Error("empty phone is optional")
	}
	if tr.calls != 0 {
		t.Error("no delivery expected")
	}
}

func TestHandler_BadEmailBlocksDelivery(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHandler(t, &fakeSession{}, tr)
	v := validForm()
	v.Set("email", "not-an-email")

	_, resp := post(h, v)
	if resp.OK || resp.Errors[FieldEmail] != english.fields[FieldEmail] {
		t.Fatalf("expected email error, got %+v", resp)
	}
	if tr.calls != 0 {
		t.Error("no delivery expected")
	}
}

func TestHandler_JSONBody(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHandler(t, &fakeSession{}, tr)
	body := `{"firstName":"Ann","lastName":"Lee","email":"ann@example.com","message":"Hello","phone":"+1 (555) 123-4567"}`
	req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	if _, resp := serve(h, req); !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if !strings.Contains(tr.last.Body, "Phone: +1 (555) 123-4567") {
		t.Errorf("phone missing from body:\n%s", tr.last.Body)
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	h := newTestHandler(t, &fakeSession{}, &fakeTransport{})
	req := httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader("{bad json"))
	req.Header.Set("Content-Type", "application/json")

	rec, resp := serve(h, req)
	if rec.Code != http.StatusBadRequest || resp.Message != english.text(textBadRequest) {
		t.Fatalf("expected invalid request, got %d %+v", rec.Code, resp)
	}
}

func TestHandler_BodyTooLarge(t *testing.T) {
	cfg := Config{To: "inbox@example.com", Locale: "en", MaxBody: 128}
	tr := &fakeTransport{}
	h, err := New(cfg, &fakeSession{}, tr)
	if err != nil {
		t.Fatal(err)
	}
	v := validForm()
	v.Set("message", strings.Repeat("x", 1024))

	rec, resp := post(h, v)
	if rec.Code != http.StatusBadRequest || resp.Message != english.text(textBadRequest) {
		t.Fatalf("expected invalid request, got %d %+v", rec.Code, resp)
	}
	if tr.calls != 0 {
		t.Error("no delivery expected")
	}
}

func TestHandler_Captcha(t *testing.T) {
	verify := func(id, solution string) bool { return id == "abc" && solution == "123456" }
	tests := []struct {
		name     string
		id, sol  string
		wantKind string // "" means accepted
	}{
		{"solved", "abc", "123456", ""},
		{"missing", "abc", "", english.fields[FieldCaptcha]},
		{"wrong", "abc", "000000", english.kinds[fieldKind{FieldCaptcha, Malformed}]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeSession{}, &fakeTransport{}, WithCaptcha(verify))
			v := validForm()
			v.Set("captchaId", tt.id)
			v.Set("captchaSolution", tt.sol)
			_, resp := post(h, v)
			if tt.wantKind == "" {
				if !resp.OK {
					t.Fatalf("expected ok, got %+v", resp)
				}
				return
			}
			if resp.Errors[FieldCaptcha] != tt.wantKind {
				t.Fatalf("captcha error = %q, want %q", resp.Errors[FieldCaptcha], tt.wantKind)
			}
		})
	}
}

func TestHandler_AcceptLanguage(t *testing.T) {
	h := newTestHandler(t, &fakeSession{}, &fakeTransport{})
	req := httptest.NewRequest(http.MethodGet, "/contact", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.5")

	_, resp := serve(h, req)
	if resp.Message != russian.text(textBadMethod) {
		t.Fatalf("expected russian message, got %q", resp.Message)
	}
}

func TestHandler_Reject(t *testing.T) {
	h := newTestHandler(t, &fakeSession{}, &fakeTransport{})
	rec := httptest.NewRecorder()
	h.Reject(rec, httptest.NewRequest(http.MethodPost, "/contact", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if h.Stats().Invalid != 1 {
		t.Errorf("invalid counter = %d", h.Stats().Invalid)
	}
}

func TestNew_Requirements(t *testing.T) {
	if _, err := New(Config{}, &fakeSession{}, &fakeTransport{}); err == nil {
		t.Error("expected error without destination")
	}
	if _, err := New(Config{To: "a@b.co"}, nil, &fakeTransport{}); err == nil {
		t.Error("expected error without session store")
	}
	if _, err := New(Config{To: "a@b.co"}, &fakeSession{}, nil); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := New(Config{To: "a@b.co", Locale: "de"}, &fakeSession{}, &fakeTransport{}); err == nil {
		t.Error("expected error for unsupported locale")
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		host, origin string
		ok           bool
	}{
		{"example.com", "", true},
		{"example.com", "http://example.com", true},
		{"example.com", "http://EXAMPLE.com:80", true},
		{"example.com:443", "https://example.com", true},
		{"example.com:8080", "http://example.com:8080", true},
		{"[::1]:8080", "http://[::1]:8080", true},
		{"example.com", "http://example.com:9999", false},
		{"example.com:8080", "http://example.com", false},
		{"example.com", "http://example.com.evil.test", false},
		{"example.com", "null", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/contact", nil)
		req.Host = tt.host
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := sameOrigin(req); got != tt.ok {
			t.Errorf("host %q origin %q: got %v", tt.host, tt.origin, got)
		}
	}
}
