package rbac

import (
	"reflect"
	"testing"
)

func TestHasPermissionExact(t *testing.T) {
	held := []string{"orders.view", "creators.payments.approve"}
	if !HasPermission(held, "orders.view") {
		t.Fatal("exact match failed")
	}
	if !HasPermission(held, "creators.payments.approve") {
		t.Fatal("deep exact match failed")
	}
	if HasPermission(held, "orders.edit") {
		t.Fatal("unexpected grant")
	}
	if HasPermission(held, "orders") {
		t.Fatal("prefix alone must not match")
	}
}

func TestHasPermissionCategoryWildcard(t *testing.T) {
	held := []string{"orders.*"}
	if !HasPermission(held, "orders.view") {
		t.Fatal("category wildcard should match direct child")
	}
	if !HasPermission(held, "orders.items.create") {
		t.Fatal("category wildcard should match nested permission")
	}
	if HasPermission(held, "creators.view") {
		t.Fatal("category wildcard leaked across categories")
	}
	if HasPermission(held, "orders") {
		t.Fatal("category wildcard must not match the bare category")
	}
}

func TestHasPermissionActionWildcard(t *testing.T) {
	held := []string{"*.view"}
	if !HasPermission(held, "orders.view") {
		t.Fatal("action wildcard should match two-segment permission")
	}
	if !HasPermission(held, "creators.view") {
		t.Fatal("action wildcard should match any category")
	}
	// Action wildcards apply at depth two only.
	if HasPermission(held, "creators.payments.view") {
		t.Fatal("action wildcard matched a three-segment permission")
	}
	if HasPermission(held, "orders.edit") {
		t.Fatal("action wildcard matched wrong action")
	}
}

func TestHasPermissionFullWildcard(t *testing.T) {
	held := []string{"*"}
	for _, required := range []string{"orders.view", "creators.payments.approve", "anything.at.all"} {
		if !HasPermission(held, required) {
			t.Fatalf("full wildcard should match %q", required)
		}
	}
}

func TestHasPermissionEmptySets(t *testing.T) {
	if HasPermission(nil, "orders.view") {
		t.Fatal("empty held set granted a permission")
	}
	if HasPermission([]string{"orders.view"}, "") {
		t.Fatal("empty required string granted")
	}
}

func TestHasPermissionMalformedWildcards(t *testing.T) {
	for _, held := range []string{"orders.*.view", "*.*", "**"} {
		if HasPermission([]string{held}, "orders.view") {
			t.Fatalf("malformed wildcard %q granted a permission", held)
		}
	}
}

func TestHasAnyAndAll(t *testing.T) {
	held := []string{"orders.*", "analytics.view"}
	if !HasAnyPermission(held, "payouts.approve", "orders.view") {
		t.Fatal("any: expected grant via orders.view")
	}
	if HasAnyPermission(held, "payouts.approve", "settings.edit") {
		t.Fatal("any: unexpected grant")
	}
	if !HasAllPermissions(held, "orders.view", "orders.edit", "analytics.view") {
		t.Fatal("all: expected grant")
	}
	if HasAllPermissions(held, "orders.view", "payouts.approve") {
		t.Fatal("all: unexpected grant")
	}
	if !HasAllPermissions(held) {
		t.Fatal("all: empty required set should be vacuously true")
	}
}

func TestResolvePermissions(t *testing.T) {
	got := ResolvePermissions(
		[]string{"orders.view", "orders.edit", "orders.view"},
		[]string{"orders.view", "analytics.view", ""},
	)
	want := []string{"orders.view", "orders.edit", "analytics.view"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ResolvePermissions=%v, want %v", got, want)
	}
}

func TestExpandWildcards(t *testing.T) {
	universe := []string{
		"orders.view", "orders.edit", "orders.items.create",
		"creators.view", "creators.payments.view",
	}
	got := ExpandWildcards([]string{"orders.*", "*.view", "settings.edit"}, universe)
	want := []string{
		"orders.view", "orders.edit", "orders.items.create",
		"creators.view",
		"settings.edit",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpandWildcards=%v, want %v", got, want)
	}
}
