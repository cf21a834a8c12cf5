package gql

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/graphql-go/graphql"

	"trullo.app/internal/auth"
)

const maxRequestBytes = 1 << 20

type request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// session collects cookie changes made by resolvers during one request.
// Only the last login or logout of a document decides the cookie.
type session struct {
	token   string
	expires time.Time
	clear   bool
}

func (s *session) start(token string, expires time.Time) {
	s.token, s.expires, s.clear = token, expires, false
}

func (s *session) end() {
	s.token, s.expires, s.clear = "", time.Time{}, true
}

type sessionKey struct{}

func sessionFromContext(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// Handler executes POSTed GraphQL documents.
type Handler struct {
	schema       graphql.Schema
	cookieSecure bool
}

// NewHandler resolves the caller from the token cookie, falling back to a
// bearer header, before executing queries.
func NewHandler(schema graphql.Schema, authn *auth.Authenticator, cookieSecure bool) http.Handler {
	h := &Handler{schema: schema, cookieSecure: cookieSecure}
	return authn.Middleware(auth.FromCookie, auth.FromBearer)(h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeErrors(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, err := decodeRequest(w, r)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, err.Error())
		return
	}

	s := &session{}
	ctx := context.WithValue(r.Context(), sessionKey{}, s)
	res := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})

	switch {
	case s.token != "":
		auth.SetTokenCookie(w, s.token, s.expires, h.cookieSecure)
	case s.clear:
		auth.ClearTokenCookie(w, h.cookieSecure)
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (request, error) {
	var req request
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()
	if err := json.NewDecoder(reader).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("request body is required")
		}
		return req, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errors.New("query is required")
	}
	return req, nil
}

func writeErrors(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"errors": []map[string]any{{"message": msg}},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
