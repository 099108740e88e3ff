package models

import "testing"

func TestHasCyclicDependencies_NoCycle(t *testing.T) {
	subtasks := []SubTask{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
	}
	if HasCyclicDependencies(subtasks) {
		t.Error("expected no cycle in a linear chain")
	}
}

func TestHasCyclicDependencies_DirectCycle(t *testing.T) {
	subtasks := []SubTask{
		{ID: "A", Dependencies: []string{"B"}},
		{ID: "B", Dependencies: []string{"A"}},
	}
	if !HasCyclicDependencies(subtasks) {
		t.Error("expected cycle to be detected")
	}
}

func TestHasCyclicDependencies_SelfReference(t *testing.T) {
	subtasks := []SubTask{
		{ID: "A", Dependencies: []string{"A"}},
	}
	if !HasCyclicDependencies(subtasks) {
		t.Error("expected self-reference to be detected as a cycle")
	}
}

func TestHasCyclicDependencies_UnknownDependencyIgnored(t *testing.T) {
	subtasks := []SubTask{
		{ID: "A", Dependencies: []string{"nonexistent"}},
	}
	if HasCyclicDependencies(subtasks) {
		t.Error("a dependency on an unknown task should not be treated as a cycle")
	}
}

func TestYAMLSubTask_Normalize_MixedDependencyFormats(t *testing.T) {
	y := YAMLSubTask{
		ID:           "2",
		Title:        "wire the handler",
		Dependencies: []interface{}{1, float64(3), "four"},
	}

	st, err := y.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"1", "3", "four"}
	if len(st.Dependencies) != len(want) {
		t.Fatalf("Dependencies = %v, want %v", st.Dependencies, want)
	}
	for i, w := range want {
		if st.Dependencies[i] != w {
			t.Errorf("Dependencies[%d] = %q, want %q", i, st.Dependencies[i], w)
		}
	}
}

func TestYAMLSubTask_Normalize_RejectsUnsupportedFormat(t *testing.T) {
	y := YAMLSubTask{ID: "1", Dependencies: []interface{}{3.5}}
	if _, err := y.Normalize(); err != nil {
		t.Errorf("a non-integral float should normalize via %%v, got error: %v", err)
	}

	y = YAMLSubTask{ID: "1", Dependencies: []interface{}{true}}
	if _, err := y.Normalize(); err == nil {
		t.Error("expected error for an unsupported dependency type")
	}
}
