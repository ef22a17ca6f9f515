package action

import (
	"reflect"
	"testing"

	xerrors "OpenMCP-WalletKit/internal/errors"
)

func named(name string) Definition {
	def := testDefinition()
	def.Name = name
	return def
}

func TestRegistryPreservesOrder(t *testing.T) {
	reg, err := NewRegistry(
		NewSource("erc20", named("approve"), named("transfer")),
		NewSource("wallet", named("get_wallet_details")),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	want := []string{"approve", "transfer", "get_wallet_details"}
	if !reflect.DeepEqual(reg.Names(), want) {
		t.Fatalf("unexpected order %v", reg.Names())
	}
	if reg.Len() != 3 || reg.SourceOf("get_wallet_details") != "wallet" {
		t.Fatalf("unexpected registry state: len=%d source=%q", reg.Len(), reg.SourceOf("get_wallet_details"))
	}

	first := reg.List()
	first[0].Name = "mutated"
	if second := reg.List(); second[0].Name != "approve" || len(second) != 3 {
		t.Fatalf("list must return an independent copy, got %v", reg.Names())
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg, err := NewRegistry(
		NewSource("erc20", named("approve")),
		NewSource("custom", named("approve")),
	)
	if reg != nil {
		t.Fatal("registry must not be returned on duplicate")
	}
	if xerrors.CodeOf(err) != CodeDuplicateAction {
		t.Fatalf("expected DUPLICATE_ACTION, got %v", err)
	}
	meta := xerrors.MetadataOf(err)
	if meta["first_source"] != "erc20" || meta["second_source"] != "custom" || meta["action"] != "approve" {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestRegistryRejectsInvalidDefinitions(t *testing.T) {
	noInvoke := named("noop")
	noInvoke.Invoke = nil
	cases := map[string]Source{
		"empty name": NewSource("x", named("")),
		"whitespace": NewSource("x", named("two words")),
		"no invoke":  NewSource("x", noInvoke),
		"bad schema": NewSource("x", Definition{Name: "bad", Schema: NewSchema(Field{Name: "a", Kind: "float"}), Invoke: sendOnce}),
	}
	for name, src := range cases {
		if _, err := NewRegistry(src); xerrors.CodeOf(err) != CodeInvalidDefinition {
			t.Fatalf("%s: expected INVALID_ACTION_DEFINITION, got %v", name, err)
		}
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("nil source should fail")
	}
}

func TestRegistryLookupIsExact(t *testing.T) {
	reg, err := NewRegistry(NewSource("erc20", named("approve")))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, ok := reg.Lookup("approve"); !ok {
		t.Fatal("exact lookup failed")
	}
	for _, miss := range []string{"Approve", "approve ", "appro"} {
		if _, ok := reg.Lookup(miss); ok {
			t.Fatalf("lookup %q should miss", miss)
		}
	}
	if _, err := reg.Get("nonexistent"); xerrors.CodeOf(err) != CodeActionNotFound {
		t.Fatalf("expected ACTION_NOT_FOUND, got %v", err)
	}
}

func TestEmptyRegistry(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if reg.Len() != 0 || len(reg.List()) != 0 {
		t.Fatal("expected empty registry")
	}
}
