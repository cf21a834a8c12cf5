package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"trullo.app/internal/auth"
)

// Operation is a guarded business operation.
type Operation func(ctx context.Context, args Args) (any, error)

// Decision is the outcome of evaluating one rule set for one invocation.
type Decision struct {
	Allow    bool
	Code     Code
	Reason   string
	Policy   string
	Resource *Resource
}

// Observer receives the final decision of every evaluated rule set.
type Observer func(ctx context.Context, operation string, d Decision)

// Rules is an immutable compiled policy list.
type Rules struct {
	name     string
	rules    []rule
	identity bool
}

// Name returns the operation name the rules were compiled for.
func (r *Rules) Name() string { return r.name }

// Enforcer evaluates compiled policies against the request identity.
type Enforcer struct {
	lookups  Lookups
	observer Observer
}

// EnforcerOption configures an Enforcer.
type EnforcerOption func(*Enforcer)

// WithObserver registers a decision observer.
func WithObserver(fn Observer) EnforcerOption {
	return func(e *Enforcer) { e.observer = fn }
}

// NewEnforcer constructs an Enforcer. lookups is copied and read-only after.
func NewEnforcer(lookups Lookups, opts ...EnforcerOption) *Enforcer {
	e := &Enforcer{lookups: maps.Clone(lookups)}
	if e.lookups == nil {
		e.lookups = Lookups{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile validates policies for the named operation.
func (e *Enforcer) Compile(name string, policies ...Policy) (*Rules, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("operation %q: no policies declared", name)
	}
	out := &Rules{name: name, rules: make([]rule, 0, len(policies))}
	for _, p := range policies {
		r, err := compile(p, e.lookups)
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", name, err)
		}
		if !r.public {
			out.identity = true
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

// Wrap binds compiled rules to op. Rules run before op with the cache the
// invocation shares.
func (e *Enforcer) Wrap(rules *Rules, op Operation) Operation {
	return func(ctx context.Context, args Args) (any, error) {
		ctx, err := e.Check(ctx, rules, args)
		if err != nil {
			return nil, err
		}
		return op(ctx, args)
	}
}

// Check evaluates rules in order. The returned context carries the decision
// cache used so the operation can reuse fetched snapshots.
func (e *Enforcer) Check(ctx context.Context, rules *Rules, args Args) (context.Context, error) {
	if rules == nil {
		return ctx, internal(errors.New("nil rules"))
	}
	cache, ok := CacheFromContext(ctx)
	if !ok {
		cache = NewCache()
		ctx = context.WithValue(ctx, cacheContextKey{}, cache)
	}
	id, _ := auth.IdentityFromContext(ctx)

	d := Decision{Allow: true}
	var err error
	if rules.identity && !IsAuthenticated(id) {
		err = unauthenticated()
		d = Decision{Code: CodeUnauthenticated, Reason: err.Error(), Policy: NameAuth}
	} else {
		for _, r := range rules.rules {
			d, err = e.evaluate(ctx, cache, id, r, args)
			if err != nil {
				break
			}
		}
	}
	if e.observer != nil {
		e.observer(ctx, rules.name, d)
	}
	return ctx, err
}

func (e *Enforcer) evaluate(ctx context.Context, cache *Cache, id *auth.Identity, r rule, args Args) (Decision, error) {
	allow := func(reason string, res *Resource) (Decision, error) {
		return Decision{Allow: true, Reason: reason, Policy: r.policy, Resource: res}, nil
	}
	deny := func(err *Error, res *Resource) (Decision, error) {
		return Decision{Code: err.Code, Reason: err.Message, Policy: r.policy, Resource: res}, err
	}

	if r.public {
		return allow("public", nil)
	}

	if r.relation == relNone {
		if r.role != "" && HasRole(id, r.role) {
			return allow("role", nil)
		}
		if r.selfArg != "" {
			if _, ok := args.String(r.selfArg); !ok {
				return deny(badInput(r.selfArg), nil)
			}
			if IsSelf(id, args, r.selfArg) {
				return allow("self", nil)
			}
		}
		if r.role == "" && r.selfArg == "" {
			return allow("authenticated", nil)
		}
		return deny(forbidden(""), nil)
	}

	// Admins bypass membership without a lookup.
	if r.orAdmin && r.relation == relMember && id.IsAdmin() {
		return allow("admin", nil)
	}

	var resID string
	argName := r.args[0]
	for _, name := range r.args {
		if v, ok := args.String(name); ok {
			resID, argName = v, name
			break
		}
	}
	if resID == "" {
		return deny(badInput(argName), nil)
	}

	res, err := cache.load(ctx, r.kind, resID, e.lookups[r.kind])
	if err != nil {
		return deny(internal(fmt.Errorf("lookup %s %s: %w", r.kind, resID, err)), nil)
	}
	if res == nil {
		return deny(notFound(r.kind, resID), nil)
	}

	switch r.relation {
	case relOwner:
		// Existence is verified for every role; ownership only for non-admins.
		if r.orAdmin && id.IsAdmin() {
			return allow("admin", res)
		}
		if IsOwner(id, res, r.field) {
			return allow("owner", res)
		}
	case relMember:
		if IsMember(id, res) {
			return allow("member", res)
		}
	}
	return deny(forbidden(resID), res)
}
