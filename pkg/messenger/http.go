package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scriptstudio/internal/contexttoken"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/domain"
)

// MessagesPath is where receiving contexts accept requests over HTTP.
const MessagesPath = "/messages"

// TokenSigner issues a token naming the sender for an audience.
type TokenSigner interface {
	Issuer() string
	Sign(audience string) (string, error)
}

// TokenVerifier checks a token and returns the sending context.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// HTTPSender posts requests to a receiving context's HTTP endpoint.
type HTTPSender struct {
	baseURL string
	target  string
	signer  TokenSigner
	client  *http.Client
}

// NewHTTPSender addresses target at baseURL. A nil client uses a client
// with a 30s timeout.
func NewHTTPSender(baseURL, target string, signer TokenSigner, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		target:  target,
		signer:  signer,
		client:  client,
	}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (Response, error) {
	fail := func(reason string) (Response, error) {
		return Response{}, &domain.DeliveryError{Type: string(req.Type), Reason: reason}
	}
	if s.signer != nil && req.Source == "" {
		req.Source = s.signer.Issuer()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Sprintf("encode request: %v", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return fail(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if id := util.RequestIDFromContext(ctx); id != "" {
		httpReq.Header.Set(util.RequestIDHeader, id)
	}
	if s.signer != nil {
		token, err := s.signer.Sign(s.target)
		if err != nil {
			return fail(fmt.Sprintf("sign request: %v", err))
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := s.client.Do(httpReq)
	if err != nil {
		return fail(err.Error())
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fail(err.Error())
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fail(fmt.Sprintf("status %d: %s", res.StatusCode, strings.TrimSpace(string(payload))))
	}
	// Handler failures travel as 200 with success false; any other status
	// means the request never reached a handler.
	if res.StatusCode != http.StatusOK {
		msg := ""
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return fail(fmt.Sprintf("status %d: %s", res.StatusCode, msg))
	}
	return resp, nil
}

// HTTPHandler serves MessagesPath for r. A non-nil verifier requires a valid
// context token and overrides the request's Source with the token issuer.
func HTTPHandler(r *Router, verifier TokenVerifier) http.Handler {
	return RequireContextToken(verifier, http.HandlerFunc(func(w http.ResponseWriter, httpReq *http.Request) {
		if httpReq.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeResponse(w, http.StatusMethodNotAllowed, Fail(fmt.Errorf("method not allowed")))
			return
		}
		var req Request
		if err := json.NewDecoder(io.LimitReader(httpReq.Body, 4<<20)).Decode(&req); err != nil {
			writeResponse(w, http.StatusBadRequest, Fail(fmt.Errorf("invalid request body")))
			return
		}
		if req.Type == "" {
			writeResponse(w, http.StatusBadRequest, Fail(fmt.Errorf("type required")))
			return
		}
		if source := SourceFromContext(httpReq.Context()); source != "" {
			req.Source = source
		}
		if !r.Handles(req.Type) {
			writeResponse(w, http.StatusNotFound, Fail(fmt.Errorf("unsupported message type %q", req.Type)))
			return
		}
		writeResponse(w, http.StatusOK, r.Dispatch(httpReq.Context(), req))
	}))
}

type sourceKey struct{}

// SourceFromContext returns the context name proven by the caller's token,
// or "" when no verifier guarded the request.
func SourceFromContext(ctx context.Context) string {
	source, _ := ctx.Value(sourceKey{}).(string)
	return source
}

// RequireContextToken rejects requests without a valid context token with
// 401 and records the verified issuer for SourceFromContext. A nil verifier
// lets every request through.
func RequireContextToken(verifier TokenVerifier, next http.Handler) http.Handler {
	if verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := contexttoken.BearerToken(r)
		if !ok {
			writeResponse(w, http.StatusUnauthorized, Fail(fmt.Errorf("context token required")))
			return
		}
		issuer, err := verifier.Verify(token)
		if err != nil {
			writeResponse(w, http.StatusUnauthorized, Fail(fmt.Errorf("invalid context token")))
			return
		}
		ctx := context.WithValue(r.Context(), sourceKey{}, issuer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("messenger: write response failed", "err", err)
	}
}
