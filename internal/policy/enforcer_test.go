package policy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"trullo.app/internal/auth"
)

type stubStore struct {
	resources map[string]*Resource
	calls     map[string]int
	err       error
}

func newStubStore(resources ...*Resource) *stubStore {
	s := &stubStore{resources: map[string]*Resource{}, calls: map[string]int{}}
	for _, r := range resources {
		s.resources[r.ID] = r
	}
	return s
}

func (s *stubStore) lookup(_ context.Context, id string) (*Resource, error) {
	s.calls[id]++
	if s.err != nil {
		return nil, s.err
	}
	return s.resources[id], nil
}

func newTestEnforcer(s *stubStore, opts ...EnforcerOption) *Enforcer {
	return NewEnforcer(Lookups{
		KindProject: s.lookup,
		KindTask:    s.lookup,
		KindUser:    s.lookup,
	}, opts...)
}

func as(userID string, role auth.Role) context.Context {
	return auth.ContextWithIdentity(context.Background(), &auth.Identity{UserID: userID, Role: role})
}

func mustGuard(t *testing.T, e *Enforcer, policies ...Policy) (Operation, *int) {
	t.Helper()
	calls := 0
	rules, err := e.Compile("test.op", policies...)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	op := e.Wrap(rules, func(ctx context.Context, args Args) (any, error) {
		calls++
		return "ok", nil
	})
	return op, &calls
}

func expectCode(t *testing.T, err error, want Code) {
	t.Helper()
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *policy.Error with %s, got %v", want, err)
	}
	if perr.Code != want {
		t.Fatalf("expected code %s, got %s (%s)", want, perr.Code, perr.Message)
	}
}

func TestScenarioARoleOrSelf(t *testing.T) {
	e := newTestEnforcer(newStubStore())
	op, calls := mustGuard(t, e, RoleOrSelf(auth.RoleAdmin, "id"))

	if _, err := op(as("u1", auth.RoleUser), Args{"id": "u1"}); err != nil {
		t.Fatalf("self should be allowed: %v", err)
	}
	_, err := op(as("u1", auth.RoleUser), Args{"id": "u2"})
	expectCode(t, err, CodeForbidden)
	if _, err := op(as("admin", auth.RoleAdmin), Args{"id": "u2"}); err != nil {
		t.Fatalf("admin should be allowed: %v", err)
	}
	if *calls != 2 {
		t.Fatalf("operation ran %d times, want 2", *calls)
	}
}

func TestScenarioBUnauthenticatedBeforeMembership(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "u9"})
	e := newTestEnforcer(store)
	op, calls := mustGuard(t, e, Member(KindProject, "projectId"))

	_, err := op(context.Background(), Args{"projectId": "p1"})
	expectCode(t, err, CodeUnauthenticated)
	if store.calls["p1"] != 0 {
		t.Fatal("membership must not be checked for anonymous callers")
	}
	if *calls != 0 {
		t.Fatal("operation must not run")
	}
}

func TestScenarioCMemberAllowed(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "u9", Members: []string{"u3", "u4"}})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, Member(KindProject, "projectId"))

	for _, uid := range []string{"u3", "u4", "u9"} {
		if _, err := op(as(uid, auth.RoleUser), Args{"projectId": "p1"}); err != nil {
			t.Fatalf("%s should be allowed: %v", uid, err)
		}
	}
	_, err := op(as("u5", auth.RoleUser), Args{"projectId": "p1"})
	expectCode(t, err, CodeForbidden)
}

func TestScenarioDOwnerNotFound(t *testing.T) {
	e := newTestEnforcer(newStubStore())
	op, _ := mustGuard(t, e, Owner(KindProject, "ownerId", "id"))

	_, err := op(as("u1", auth.RoleUser), Args{"id": "p404"})
	expectCode(t, err, CodeNotFound)
	var perr *Error
	errors.As(err, &perr)
	if perr.ResourceID != "p404" {
		t.Fatalf("expected resource id p404, got %q", perr.ResourceID)
	}
}

func TestAuthenticatedPolicy(t *testing.T) {
	e := newTestEnforcer(newStubStore())
	op, _ := mustGuard(t, e, Authenticated())

	_, err := op(context.Background(), nil)
	expectCode(t, err, CodeUnauthenticated)
	for _, role := range auth.Roles {
		if _, err := op(as("u1", role), nil); err != nil {
			t.Fatalf("role %s should pass: %v", role, err)
		}
	}
}

func TestOwnerOrAdmin(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner"})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, OwnerOrAdmin(KindProject, "ownerId", "id"))

	if _, err := op(as("admin", auth.RoleAdmin), Args{"id": "p1"}); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if _, err := op(as("owner", auth.RoleUser), Args{"id": "p1"}); err != nil {
		t.Fatalf("owner: %v", err)
	}
	_, err := op(as("other", auth.RoleUser), Args{"id": "p1"})
	expectCode(t, err, CodeForbidden)

	_, err = op(as("admin", auth.RoleAdmin), Args{"id": "missing"})
	expectCode(t, err, CodeNotFound)
	_, err = op(as("owner", auth.RoleUser), Args{"id": "missing"})
	expectCode(t, err, CodeNotFound)
}

func TestMemberOrAdminSkipsLookupForAdmin(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner"})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, MemberOrAdmin(KindProject, ""))

	if _, err := op(as("admin", auth.RoleAdmin), Args{"id": "p1"}); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if store.calls["p1"] != 0 {
		t.Fatalf("admin check must precede lookup, got %d calls", store.calls["p1"])
	}
}

func TestMemberArgFallsBackToProjectID(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner"})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, Member(KindProject, ""))

	if _, err := op(as("owner", auth.RoleUser), Args{"projectId": "p1"}); err != nil {
		t.Fatalf("fallback arg: %v", err)
	}
	_, err := op(as("owner", auth.RoleUser), Args{})
	expectCode(t, err, CodeBadInput)
}

func TestMissingArgumentIsBadInput(t *testing.T) {
	e := newTestEnforcer(newStubStore())
	cases := map[string]Policy{
		"owner":  Owner(KindProject, "", "id"),
		"member": Member(KindTask, "id"),
		"self":   Self("id"),
	}
	for name, p := range cases {
		op, calls := mustGuard(t, e, p)
		_, err := op(as("u1", auth.RoleUser), Args{"id": "  "})
		if !errors.Is(err, ErrBadInput) {
			t.Fatalf("%s: expected bad input, got %v", name, err)
		}
		if *calls != 0 {
			t.Fatalf("%s: operation must not run", name)
		}
	}
}

func TestLookupFailureIsInternal(t *testing.T) {
	store := newStubStore()
	store.err = errors.New("connection reset")
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, OwnerOrAdmin(KindProject, "", ""))

	_, err := op(as("u1", auth.RoleUser), Args{"id": "p1"})
	expectCode(t, err, CodeInternal)
	if errors.Is(err, ErrForbidden) {
		t.Fatal("store failure must not look like a denial")
	}
	if !errors.Is(err, store.err) {
		t.Fatal("internal error should wrap the cause")
	}
	var perr *Error
	errors.As(err, &perr)
	if perr.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", perr.HTTPStatus())
	}
	if _, ok := perr.Extensions()["cause"]; ok || perr.Error() != "internal error" {
		t.Fatalf("internal details leaked: %v", perr.Extensions())
	}
}

func TestSelfIgnoresStore(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindUser, ID: "u1", OwnerID: "someone-else"})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, Self("id"))

	if _, err := op(as("u1", auth.RoleUser), Args{"id": "u1"}); err != nil {
		t.Fatalf("self: %v", err)
	}
	store.resources = map[string]*Resource{}
	if _, err := op(as("u1", auth.RoleUser), Args{"id": "u1"}); err != nil {
		t.Fatalf("self after store change: %v", err)
	}
	if len(store.calls) != 0 {
		t.Fatal("self must not consult the store")
	}
	_, err := op(as("admin", auth.RoleAdmin), Args{"id": "u1"})
	expectCode(t, err, CodeForbidden)
}

func TestCacheSingleLookupPerInvocation(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner", Members: []string{"m"}})
	e := newTestEnforcer(store)
	rules, err := e.Compile("project.update", Member(KindProject, "id"), Member(KindProject, "id"), Owner(KindProject, "ownerId", "id"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	op := e.Wrap(rules, func(ctx context.Context, args Args) (any, error) {
		if _, ok := CacheFromContext(ctx); !ok {
			t.Fatal("expected the invocation cache in the operation context")
		}
		return nil, nil
	})

	if _, err := op(as("owner", auth.RoleUser), Args{"id": "p1"}); err != nil {
		t.Fatalf("owner: %v", err)
	}
	if store.calls["p1"] != 1 {
		t.Fatalf("expected one lookup, got %d", store.calls["p1"])
	}

	if _, err := op(as("owner", auth.RoleUser), Args{"id": "p1"}); err != nil {
		t.Fatalf("second invocation: %v", err)
	}
	if store.calls["p1"] != 2 {
		t.Fatalf("cache must not be shared across invocations, got %d lookups", store.calls["p1"])
	}
}

func TestCheckReusesRequestCache(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner"})
	e := newTestEnforcer(store)
	rules, err := e.Compile("project.get", MemberOrAdmin(KindProject, "id"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx := WithCache(as("owner", auth.RoleUser))
	for i := 0; i < 2; i++ {
		if _, err := e.Check(ctx, rules, Args{"id": "p1"}); err != nil {
			t.Fatalf("Check #%d: %v", i, err)
		}
	}
	if store.calls["p1"] != 1 {
		t.Fatalf("expected one lookup, got %d", store.calls["p1"])
	}
}

func TestPoliciesEvaluateInOrder(t *testing.T) {
	store := newStubStore(&Resource{Kind: KindProject, ID: "p1", OwnerID: "owner"})
	e := newTestEnforcer(store)
	op, _ := mustGuard(t, e, Admin(), Member(KindProject, "id"))

	_, err := op(as("owner", auth.RoleUser), Args{"id": "p1"})
	expectCode(t, err, CodeForbidden)
	if store.calls["p1"] != 0 {
		t.Fatal("later policies must not run after a denial")
	}
}

func TestObserverReceivesFinalDecision(t *testing.T) {
	var got []Decision
	var names []string
	e := newTestEnforcer(newStubStore(), WithObserver(func(_ context.Context, op string, d Decision) {
		names = append(names, op)
		got = append(got, d)
	}))
	rules, err := e.Compile("user.role", Admin())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, _ = e.Check(as("u1", auth.RoleUser), rules, nil)
	_, _ = e.Check(as("a1", auth.RoleAdmin), rules, nil)

	if len(got) != 2 || names[0] != "user.role" {
		t.Fatalf("unexpected observations: %v %+v", names, got)
	}
	if got[0].Allow || got[0].Code != CodeForbidden {
		t.Fatalf("expected forbidden, got %+v", got[0])
	}
	if !got[1].Allow {
		t.Fatalf("expected allow, got %+v", got[1])
	}
}

func TestPublicNeedsNoIdentity(t *testing.T) {
	e := newTestEnforcer(newStubStore())
	op, _ := mustGuard(t, e, Public())
	if _, err := op(context.Background(), nil); err != nil {
		t.Fatalf("public: %v", err)
	}
}
