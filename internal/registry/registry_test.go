package registry

import (
	"testing"

	"artifactd/pkg/types"
)

func desc(id, family string) types.ArtifactDescriptor {
	return types.ArtifactDescriptor{
		ID: id, Family: family, Provider: types.ProviderLocal,
		Variants: []types.VariantSpec{{Variant: types.VariantDistilled, Path: id + ".bin"}},
	}
}

func TestRegister_NoDuplicateOverwrite(t *testing.T) {
	r := New()
	if !r.Register(desc("summarizer", "textgen")) {
		t.Fatal("first register failed")
	}
	dup := desc("summarizer", "translation")
	if r.Register(dup) {
		t.Fatal("duplicate register succeeded")
	}
	got, ok := r.Get("summarizer")
	if !ok || got.Family != "textgen" {
		t.Fatalf("original descriptor overwritten: %+v", got)
	}
	if r.Register(types.ArtifactDescriptor{}) {
		t.Fatal("empty id register succeeded")
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register(desc("a", "textgen"))
	if !r.Unregister("a") {
		t.Fatal("unregister returned false")
	}
	if r.Unregister("a") {
		t.Fatal("second unregister returned true")
	}
	if len(r.ListByTask("textgen")) != 0 {
		t.Fatal("task index not cleaned up")
	}
}

func TestListByTask(t *testing.T) {
	r := New()
	r.Register(desc("b", "textgen"))
	r.Register(desc("a", "textgen"))
	r.Register(desc("c", "translation"))
	got := r.ListByTask("textgen")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("ListByTask = %+v", got)
	}
	if len(r.ListByTask("missing")) != 0 {
		t.Fatal("unknown family returned entries")
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}
}
