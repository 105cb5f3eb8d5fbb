package liveauth

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	deniedPage  = "<html><body>Sign in to continue</body></html>"
	welcomePage = "<html><body>Welcome back</body></html>"
	sessionName = "portal_session"
)

// recordedRequest is what the fake provider remembers about each request.
type recordedRequest struct {
	Method    string
	Path      string
	Referer   string
	UserAgent string
}

// fakeProvider plays both the portal and the identity provider on two hosts.
type fakeProvider struct {
	t      *testing.T
	portal *httptest.Server
	idp    *httptest.Server

	// dropMarker removes the page fragment a rule looks for.
	dropMarker string
	// rejectSession makes the continue POST succeed without granting a session.
	rejectSession bool
	// portalStatus, when set, is returned for every portal request.
	portalStatus int

	mu             sync.Mutex
	requests       []recordedRequest
	credentialForm *Form
	continueForm   *Form
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{t: t}

	portalMux := http.NewServeMux()
	portalMux.HandleFunc("/", p.handlePortal)
	portalMux.HandleFunc("/secure/Passport.aspx", p.handleContinue)
	p.portal = httptest.NewServer(portalMux)

	idpMux := http.NewServeMux()
	idpMux.HandleFunc("/login.srf", p.handleLoginPage)
	idpMux.HandleFunc("/ppsecure/post.srf", p.handleCredentials)
	idpMux.HandleFunc("/denied", func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		writeHTML(w, deniedPage)
	})
	p.idp = httptest.NewServer(idpMux)

	t.Cleanup(func() {
		p.portal.Close()
		p.idp.Close()
	})
	return p
}

func (p *fakeProvider) portalURL() string {
	return p.portal.URL + "/"
}

func (p *fakeProvider) loginPageURL() string {
	return p.idp.URL + "/login.srf?wa=wsignin1.0"
}

func (p *fakeProvider) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, recordedRequest{
		Method:    r.Method,
		Path:      r.URL.Path,
		Referer:   r.Header.Get("Referer"),
		UserAgent: r.Header.Get("User-Agent"),
	})
}

func (p *fakeProvider) recorded() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]recordedRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *fakeProvider) lastPath() string {
	reqs := p.recorded()
	require.NotEmpty(p.t, reqs)
	return reqs[len(reqs)-1].Path
}

func (p *fakeProvider) requestsTo(path string) []recordedRequest {
	var out []recordedRequest
	for _, r := range p.recorded() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (p *fakeProvider) handlePortal(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	if p.portalStatus != 0 {
		http.Error(w, "unavailable", p.portalStatus)
		return
	}
	if c, err := r.Cookie(sessionName); err == nil && c.Value == "ok" {
		writeHTML(w, welcomePage)
		return
	}
	if r.Header.Get("Referer") != "" {
		http.Redirect(w, r, p.idp.URL+"/denied", http.StatusFound)
		return
	}

	liveID := strings.ReplaceAll(p.loginPageURL(), "/", `\/`)
	script := `var sj_ssoConf={"Apps":{"WindowsLiveId":"` + liveID + `"}};`
	if p.dropMarker == RuleWindowsLiveID.Name {
		script = `var sj_ssoConf={"Apps":{}};`
	}
	writeHTML(w, "<html><head><script>"+script+"</script></head><body>portal</body></html>")
}

func (p *fakeProvider) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	p.record(r)

	lines := []string{
		`<html><body><script>var ServerData = {`,
		`sFTTag:'<input type="hidden" name="PPFT" id="i0327" value="ppft-token-123"/>',`,
		`urlPost:'/ppsecure/post.srf?uaid=42',`,
		`bH:'PassportRN',`,
		`iMax:10000};</script></body></html>`,
	}
	switch p.dropMarker {
	case RulePPFT.Name:
		lines[1] = `sFTTag:'',`
	case RuleURLPost.Name:
		lines[2] = `urlGo:'',`
	case RulePPSX.Name:
		lines[3] = `bH:'',`
	}
	writeGzippedHTML(w, strings.Join(lines, "\n"))
}

func (p *fakeProvider) handleCredentials(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	form := p.readForm(r)
	p.mu.Lock()
	p.credentialForm = form
	p.mu.Unlock()

	login, _ := form.Get("loginfmt")
	passwd, _ := form.Get("passwd")
	switch {
	case passwd == "wrong":
		writeHTML(w, `<div id="passwordError">That password is incorrect. Please try again.</div>`)
		return
	case login == "nobody@example.com":
		writeHTML(w, `<div id="usernameError">That Microsoft account doesn't exist. Enter a different account.</div>`)
		return
	case login == "tou@example.com":
		writeHTML(w, `<script>location.href='https://account.live.com/tou/accrue?mkt=en-US';</script>`)
		return
	}

	action := `<form name="fmHF" id="fmHF" action="` + p.portal.URL + `/secure/Passport.aspx?requrl=%2f" method="post" target="_top">`
	if p.dropMarker == RuleFormAction.Name {
		action = `<div name="fmHF">`
	}
	writeHTML(w, strings.Join([]string{
		"<html><body>",
		action,
		`<input type="hidden" name="NAPExp" id="NAPExp" value="Sat, 17-Oct-2026 10:00:00 GMT">`,
		`<input type="hidden" name="NAP" id="NAP" value="V=1.9&E=abc">`,
		`<input type="hidden" name="ANON" id="ANON" value="A=123">`,
		"</form></body></html>",
	}, "\n"))
}

func (p *fakeProvider) handleContinue(w http.ResponseWriter, r *http.Request) {
	p.record(r)
	form := p.readForm(r)
	p.mu.Lock()
	p.continueForm = form
	p.mu.Unlock()

	if !p.rejectSession {
		http.SetCookie(w, &http.Cookie{Name: sessionName, Value: "ok", Path: "/"})
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *fakeProvider) readForm(r *http.Request) *Form {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.t.Errorf("reading form body: %v", err)
		return NewForm()
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		p.t.Errorf("unexpected form content type %q", ct)
	}
	form, err := ParseForm(string(body))
	if err != nil {
		p.t.Errorf("parsing form body: %v", err)
		return NewForm()
	}
	return form
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

func writeGzippedHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	_, _ = io.WriteString(gz, page)
	_ = gz.Close()
}
