package mirror

import (
	"reflect"
	"testing"
)

func TestChangeSet_Empty(t *testing.T) {
	cs := &ChangeSet{}
	if !cs.Empty() {
		t.Error("zero change set should be empty")
	}

	cs.Modified = []string{"a.go"}
	if cs.Empty() {
		t.Error("change set with modifications should not be empty")
	}
}

func TestChangeSet_ToChunk(t *testing.T) {
	cs := &ChangeSet{
		Added:    []string{"z.go", "a.go"},
		Modified: []string{"m.go"},
		Deleted:  []string{"gone.go"},
	}

	got := cs.ToChunk()
	want := []string{"a.go", "m.go", "z.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToChunk() = %v, want %v", got, want)
	}
}

func TestChangeSet_ToPurge(t *testing.T) {
	cs := &ChangeSet{
		Added:    []string{"new.go"},
		Modified: []string{"m.go"},
		Deleted:  []string{"b.go", "a.go"},
	}

	got := cs.ToPurge()
	want := []string{"a.go", "b.go", "m.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToPurge() = %v, want %v", got, want)
	}
}
