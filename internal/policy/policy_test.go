package policy

import (
	"context"
	"errors"
	"testing"
)

func TestCompileRejectsInvalidPolicies(t *testing.T) {
	e := NewEnforcer(Lookups{KindProject: func(context.Context, string) (*Resource, error) { return nil, nil }})
	cases := map[string][]Policy{
		"empty":          nil,
		"unknown name":   {{Name: "superuser"}},
		"unknown param":  {{Name: NameAuth, Params: map[string]string{"scope": "x"}}},
		"unknown role":   {{Name: NameAuth, Params: map[string]string{ParamRole: "ROOT"}}},
		"bad allowSelf":  {{Name: NameAuth, Params: map[string]string{ParamRole: "ADMIN", ParamAllowSelf: "maybe"}}},
		"self no role":   {{Name: NameAuth, Params: map[string]string{ParamAllowSelf: "true"}}},
		"unknown kind":   {{Name: NameOwner, Params: map[string]string{ParamKind: "invoice"}}},
		"unknown field":  {Owner(KindProject, "createdBy", "id")},
		"no lookup":      {Member(KindTask, "id")},
		"member + field": {{Name: NameMember, Params: map[string]string{ParamKind: "project", ParamField: "ownerId"}}},
	}
	for name, policies := range cases {
		if _, err := e.Compile("op", policies...); err == nil {
			t.Fatalf("%s: expected compile error", name)
		}
	}
}

func TestPolicyString(t *testing.T) {
	got := RoleOrSelf("ADMIN", "id").String()
	if got != "auth(role=ADMIN,allowSelf=true,selfArg=id)" {
		t.Fatalf("unexpected string %q", got)
	}
	if Authenticated().String() != "auth" {
		t.Fatalf("unexpected string %q", Authenticated().String())
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := notFound(KindTask, "t1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected NotFound match")
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("unexpected Forbidden match")
	}
	ext := err.Extensions()
	if ext["code"] != "NOT_FOUND" || ext["resourceId"] != "t1" {
		t.Fatalf("unexpected extensions %v", ext)
	}
	if err.HTTPStatus() != 404 {
		t.Fatalf("unexpected status %d", err.HTTPStatus())
	}
}

func TestArgsString(t *testing.T) {
	args := Args{"a": " x ", "b": "", "c": 42, "d": []string{"no"}}
	if v, ok := args.String("a"); !ok || v != "x" {
		t.Fatalf("a = %q %v", v, ok)
	}
	if _, ok := args.String("b"); ok {
		t.Fatal("empty string must be absent")
	}
	if v, ok := args.String("c"); !ok || v != "42" {
		t.Fatalf("c = %q %v", v, ok)
	}
	if _, ok := args.String("d"); ok {
		t.Fatal("slices are not identifiers")
	}
	if _, ok := Args(nil).String("a"); ok {
		t.Fatal("nil args")
	}
}

func TestResourceMembership(t *testing.T) {
	r := &Resource{ID: "p1", OwnerID: "o", Members: []string{"m"}}
	if !r.HasMember("o") || !r.HasMember("m") || r.HasMember("x") || r.HasMember("") {
		t.Fatal("unexpected membership")
	}
	var nilRes *Resource
	if nilRes.HasMember("o") {
		t.Fatal("nil resource has no members")
	}
}
