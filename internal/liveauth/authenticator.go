// internal/liveauth/authenticator.go
package liveauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/liveauth/internal/network"
	"github.com/xkilldash9x/liveauth/internal/observability"
)

// maxPageSize bounds how much of a response body is read.
const maxPageSize = 16 << 20

// Doer sends one HTTP request. It must follow redirects and keep cookies,
// and resp.Request must describe the final hop.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Decoder turns a raw response body into text.
type Decoder interface {
	Decode(raw []byte, contentEncoding, contentType string) (string, error)
}

// Sink stores a page that explains an unclassified failure.
type Sink interface {
	Dump(page string) (string, error)
	Location() string
}

// Credentials identify the account. They are never stored or logged.
type Credentials struct {
	Login    string
	Password string
}

// String keeps credentials out of formatted output.
func (c Credentials) String() string {
	return "Credentials{Login: " + observability.MaskLogin(c.Login) + ", Password: [REDACTED]}"
}

// GoString is String for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

// Result describes a successful attempt.
type Result struct {
	AttemptID string
	FinalURL  string
	Elapsed   time.Duration
}

// Authenticator runs the login handshake against the portal and its identity provider.
// A single Authenticator should serve one attempt at a time, since the cookies
// live in its client.
type Authenticator struct {
	client    Doer
	portalURL string
	headers   map[string]string
	decoder   Decoder
	sink      Sink
	logger    *zap.Logger
	clock     clock
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithHeaders sets the headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(a *Authenticator) {
		a.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			a.headers[k] = v
		}
	}
}

// WithDecoder replaces the default body decoder.
func WithDecoder(d Decoder) Option {
	return func(a *Authenticator) {
		a.decoder = d
	}
}

// WithSink enables storing the final page when verification fails.
func WithSink(s Sink) Option {
	return func(a *Authenticator) {
		a.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator creates an Authenticator for portalURL using client for all requests.
func NewAuthenticator(client Doer, portalURL string, opts ...Option) (*Authenticator, error) {
	if client == nil {
		return nil, fmt.Errorf("http client must not be nil")
	}
	u, err := url.Parse(portalURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("portal url must be absolute, got %q", portalURL)
	}

	a := &Authenticator{
		client:    client,
		portalURL: portalURL,
		headers:   map[string]string{},
		decoder:   network.NewBodyDecoder(),
		logger:    zap.NewNop(),
		clock:     newClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("liveauth")
	return a, nil
}

// session is the per-attempt state.
type session struct {
	id      string
	referer string
	logger  *zap.Logger
}

// page is a decoded response and the URL it was finally served from.
type page struct {
	text     string
	finalURL string
}

// Authenticate logs in with creds. A nil error means the portal recognized the session.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Result, error) {
	if creds.Login == "" {
		return nil, &Error{Kind: ErrInvalidInput, Step: StepValidate, Reason: "login must not be empty"}
	}
	if creds.Password == "" {
		return nil, &Error{Kind: ErrInvalidInput, Step: StepValidate, Reason: "password must not be empty"}
	}

	start := time.Now()
	s := &session{id: uuid.NewString()}
	s.logger = a.logger.With(zap.String("attempt_id", s.id))
	s.logger.Info("Starting authentication", observability.MaskedLogin(creds.Login))

	// Portal landing page.
	portal, err := a.fetch(ctx, s, StepPortal, http.MethodGet, a.portalURL, nil)
	if err != nil {
		return nil, err
	}
	rawLiveID, ok := RuleWindowsLiveID.Find(portal.text)
	if !ok {
		return nil, driftError(StepPortal, RuleWindowsLiveID)
	}
	loginPageURL, err := resolve(portal.finalURL, unescapeScriptString(rawLiveID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepPortal, err)
	}

	// The login page is requested as if navigated from the portal.
	s.referer = a.portalURL
	login, err := a.fetch(ctx, s, StepLoginPage, http.MethodGet, loginPageURL, nil)
	if err != nil {
		return nil, err
	}
	ppft, ok := RulePPFT.Find(login.text)
	if !ok {
		return nil, driftError(StepLoginPage, RulePPFT)
	}
	ppsx, ok := RulePPSX.Find(login.text)
	if !ok {
		return nil, driftError(StepLoginPage, RulePPSX)
	}
	rawPostURL, ok := RuleURLPost.Find(login.text)
	if !ok {
		return nil, driftError(StepLoginPage, RuleURLPost)
	}
	postURL, err := resolve(login.finalURL, rawPostURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepLoginPage, err)
	}

	fields, err := a.credentialForm(creds, ppft, ppsx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepCredentials, err)
	}
	answer, err := a.fetch(ctx, s, StepCredentials, http.MethodPost, postURL, fields)
	if err != nil {
		return nil, err
	}
	if failure := classifyCredentialResponse(answer.text); failure != nil {
		s.logger.Warn("Login rejected", zap.String("step", string(failure.Step)), zap.String("reason", failure.Reason))
		return nil, failure
	}

	rawAction, ok := RuleFormAction.Find(answer.text)
	if !ok {
		return nil, driftError(StepCredentials, RuleFormAction)
	}
	action, err := resolve(answer.finalURL, rawAction)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StepContinue, err)
	}
	if _, err := a.fetch(ctx, s, StepContinue, http.MethodPost, action, HiddenFields(answer.text)); err != nil {
		return nil, err
	}

	final, err := a.fetch(ctx, s, StepVerify, http.MethodGet, a.portalURL, nil)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(final.finalURL, a.portalURL) {
		failure := a.verificationFailure(final)
		s.logger.Warn("Authentication not confirmed", zap.String("final_url", final.finalURL), zap.String("diagnostic", failure.Diagnostic))
		return nil, failure
	}

	result := &Result{AttemptID: s.id, FinalURL: final.finalURL, Elapsed: time.Since(start)}
	s.logger.Info("Authentication succeeded", zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// credentialForm assembles the credential POST body in the order the login page submits it.
func (a *Authenticator) credentialForm(creds Credentials, ppft, ppsx string) (*Form, error) {
	timing, err := NewNavigationTiming(a.clock.timestampMs()).JSON()
	if err != nil {
		return nil, err
	}

	form := NewForm()
	form.Set("loginfmt", creds.Login)
	form.Set("login", creds.Login)
	form.Set("passwd", creds.Password)
	form.Set("type", "11")
	form.Set("PPFT", ppft)
	form.Set("PPSX", ppsx)
	form.Set("LoginOptions", "3")
	form.Set("FoundMSAs", "")
	form.Set("fspost", "0")
	form.Set("NewUser", "1")
	form.Set("i2", "1")  // client mode
	form.Set("i13", "0") // keep me signed in
	form.Set("i16", timing)
	form.Set("i19", strconv.Itoa(a.clock.clientLoginTime()))
	form.Set("i21", "0")
	form.Set("i22", "0")
	form.Set("i17", "0") // SRS failed
	form.Set("i18", "__DefaultLogin_Strings|1,__DefaultLogin_Core|1,")
	return form, nil
}

func (a *Authenticator) verificationFailure(final *page) *Error {
	failure := &Error{
		Kind:   ErrVerification,
		Step:   StepVerify,
		Reason: "Authentication has not been passed",
	}
	if a.sink == nil {
		failure.Diagnostic = "no further information could be provided - diagnostic storage is disabled"
		return failure
	}

	name, err := a.sink.Dump(final.text)
	if err != nil {
		failure.Diagnostic = fmt.Sprintf("no further information could be provided - failed to write a file into %s subfolder", a.sink.Location())
		failure.Cause = err
		return failure
	}
	failure.Diagnostic = fmt.Sprintf("check %s file for more information", name)
	return failure
}

// fetch issues one request with the session referer and the configured
// headers, decodes the body and moves the referer to the final URL.
func (a *Authenticator) fetch(ctx context.Context, s *session, step Step, method, target string, form *Form) (*page, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", step, err)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if s.referer != "" {
		req.Header.Set("Referer", s.referer)
	}

	s.logger.Debug("Sending request", zap.String("step", string(step)), zap.String("method", method), zap.String("host", req.URL.Host))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", step, err)
	}
	text, err := a.decoder.Decode(raw, resp.Header.Get("Content-Encoding"), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode response body: %w", step, err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	s.referer = finalURL

	s.logger.Debug("Received response",
		zap.String("step", string(step)),
		zap.Int("status", resp.StatusCode),
		zap.String("final_host", hostOf(finalURL)),
		zap.Int("bytes", len(raw)),
	)
	return &page{text: text, finalURL: finalURL}, nil
}

// resolve interprets ref relative to base. Absolute references are returned unchanged.
func resolve(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if r.IsAbs() {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
