package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"scriptstudio/internal/contexttoken"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/kv"
	"scriptstudio/pkg/messenger"
	"scriptstudio/pkg/store"
	"scriptstudio/services/background/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	srv   *httptest.Server
	app   *app.App
	store *store.Store
}

func newFixture(t *testing.T, vendor *url.URL) *fixture {
	t.Helper()
	pattern := "https://*.vbee.vn/api/*"
	if vendor != nil {
		pattern = "http://" + vendor.Hostname() + "/api/*"
	}
	s := store.NewMemory()
	a, err := app.New(app.Config{
		Store:         s,
		Settings:      kv.NewMemoryStore(),
		Vendor:        "vbee",
		VendorPattern: pattern,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := contexttoken.NewVerifier(contexttoken.VerifierOptions{
		Secret:         testSecret,
		Audience:       "background",
		AllowedIssuers: []string{"popup"},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a, Verifier: verifier, VendorURL: vendor}).Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, app: a, store: s}
}

func signer(t *testing.T, issuer string) *contexttoken.Signer {
	t.Helper()
	s, err := contexttoken.NewSigner(contexttoken.SignerOptions{Secret: testSecret, Issuer: issuer})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

// authorized builds a request carrying a context token issued by the popup.
func authorized(t *testing.T, method, url string) *http.Request {
	t.Helper()
	token, err := signer(t, "popup").Sign("background")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestMessagesAddScriptWithContextToken(t *testing.T) {
	f := newFixture(t, nil)
	sender := messenger.NewHTTPSender(f.srv.URL, "background", signer(t, "popup"), nil)
	req, _ := messenger.NewRequest(messenger.TypeAddScript, "", messenger.AddScriptPayload{Script: &domain.Script{Title: "Night shift"}})
	resp, err := messenger.Call(context.Background(), sender, req)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	stored, ok, err := f.store.Scripts.Get(context.Background(), resp.ScriptID)
	if err != nil || !ok || stored.Title != "Night shift" {
		t.Fatalf("stored script: %+v ok=%v err=%v", stored, ok, err)
	}
}

func TestMessagesRejectsUnknownIssuer(t *testing.T) {
	f := newFixture(t, nil)
	sender := messenger.NewHTTPSender(f.srv.URL, "background", signer(t, "stranger"), nil)
	req, _ := messenger.NewRequest(messenger.TypePrimeGemini, "", nil)
	_, err := sender.Send(context.Background(), req)
	var derr *domain.DeliveryError
	if !errors.As(err, &derr) || !strings.Contains(derr.Reason, "401") {
		t.Fatalf("expected 401 delivery error, got %v", err)
	}
}

func TestMessagesRequireToken(t *testing.T) {
	f := newFixture(t, nil)
	res, err := http.Post(f.srv.URL+messenger.MessagesPath, "application/json", strings.NewReader(`{"id":"1","type":"PRIME_GEMINI_WITH_SCHEMA"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d want 401", res.StatusCode)
	}
}

func TestVendorProxyCapturesToken(t *testing.T) {
	var seenPath, seenAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
		seenAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"voices":[]}`)
	}))
	defer upstream.Close()
	vendor, _ := url.Parse(upstream.URL)
	f := newFixture(t, vendor)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/vendor/api/voices", nil)
	req.Header.Set("Authorization", "Bearer vendor-tok")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || string(body) != `{"voices":[]}` {
		t.Fatalf("proxy response: %d %s", res.StatusCode, body)
	}
	if seenPath != "/api/voices" || seenAuth != "Bearer vendor-tok" {
		t.Fatalf("upstream saw path=%q auth=%q", seenPath, seenAuth)
	}

	res, err = http.DefaultClient.Do(authorized(t, http.MethodGet, f.srv.URL+"/token"))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	defer res.Body.Close()
	var tok tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !tok.Present || tok.Token != "vendor-tok" {
		t.Fatalf("token response: %+v", tok)
	}
}

func TestVendorProxyDisabledWithoutURL(t *testing.T) {
	f := newFixture(t, nil)
	res, err := http.Get(f.srv.URL + "/vendor/api/voices")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d want 404", res.StatusCode)
	}
}

func TestTakePayloadOnce(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := messenger.NewRequest(messenger.TypeOpenPage, "popup", map[string]int{"scriptId": 3})
	resp := f.app.Router().Dispatch(context.Background(), req)
	var opened messenger.OpenPagePayload
	if err := json.Unmarshal(resp.Data, &opened); err != nil || opened.Key == "" {
		t.Fatalf("open page response: %+v err=%v", resp, err)
	}

	first, err := http.DefaultClient.Do(authorized(t, http.MethodPost, f.srv.URL+"/payloads/"+opened.Key))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	body, _ := io.ReadAll(first.Body)
	first.Body.Close()
	if first.StatusCode != http.StatusOK || string(body) != `{"scriptId":3}` {
		t.Fatalf("first take: %d %s", first.StatusCode, body)
	}
	second, err := http.DefaultClient.Do(authorized(t, http.MethodPost, f.srv.URL+"/payloads/"+opened.Key))
	if err != nil {
		t.Fatalf("take again: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusNotFound {
		t.Fatalf("second take status: got %d want 404", second.StatusCode)
	}
}

func TestTokenAndPayloadsRequireContextToken(t *testing.T) {
	f := newFixture(t, nil)
	captured := httptest.NewRequest(http.MethodGet, "https://studio.vbee.vn/api/voices", nil)
	captured.Header.Set("Authorization", "Bearer vendor-tok")
	if ok, err := f.app.Listener().Observe(context.Background(), captured); err != nil || !ok {
		t.Fatalf("observe: ok=%v err=%v", ok, err)
	}
	req, _ := messenger.NewRequest(messenger.TypeOpenPage, "popup", map[string]int{"scriptId": 9})
	resp := f.app.Router().Dispatch(context.Background(), req)
	var opened messenger.OpenPagePayload
	if err := json.Unmarshal(resp.Data, &opened); err != nil || opened.Key == "" {
		t.Fatalf("open page response: %+v err=%v", resp, err)
	}

	cases := []struct {
		method string
		path   string
		bearer string
	}{
		{http.MethodGet, "/token", ""},
		{http.MethodGet, "/token", "Bearer not-a-jwt"},
		{http.MethodPost, "/payloads/" + opened.Key, ""},
		{http.MethodDelete, "/payloads/" + opened.Key, "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		r, _ := http.NewRequest(tc.method, f.srv.URL+tc.path, nil)
		if tc.bearer != "" {
			r.Header.Set("Authorization", tc.bearer)
		}
		res, err := http.DefaultClient.Do(r)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusUnauthorized || strings.Contains(string(body), "vendor-tok") {
			t.Fatalf("%s %s bearer=%q: %d %s", tc.method, tc.path, tc.bearer, res.StatusCode, body)
		}
	}

	// Rejected takes leave the payload in place.
	res, err := http.DefaultClient.Do(authorized(t, http.MethodPost, f.srv.URL+"/payloads/"+opened.Key))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized take status: got %d want 200", res.StatusCode)
	}
}

func TestTokenAndPayloadsNotServedWithoutVerifier(t *testing.T) {
	a, err := app.New(app.Config{Store: store.NewMemory(), Settings: kv.NewMemoryStore(), Vendor: "vbee", VendorPattern: "https://*.vbee.vn/api/*"})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a}).Router())
	defer srv.Close()
	for _, path := range []string{"/token", "/payloads/anything"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status: got %d want 404", path, res.StatusCode)
		}
	}
}
