package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"trullo.app/internal/policy"
)

// decisionCache installs one lookup cache per request, shared by every guard
// on the route and readable by the handler.
func decisionCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(policy.WithCache(r.Context())))
	})
}

// guard enforces the catalogued policies of op. Route parameters are the
// policy arguments.
func (a *API) guard(op string) func(http.Handler) http.Handler {
	rules := a.guards.MustRules(op)
	enforcer := a.guards.Enforcer()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := enforcer.Check(r.Context(), rules, routeArgs(r))
			if err != nil {
				writeDenial(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func routeArgs(r *http.Request) policy.Args {
	args := policy.Args{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return args
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "" || key == "*" || i >= len(rctx.URLParams.Values) {
			continue
		}
		args[key] = rctx.URLParams.Values[i]
	}
	return args
}
