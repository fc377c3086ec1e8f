package share

import (
	"testing"
)

func TestLakeFormationPermissionsRead(t *testing.T) {
	got := LakeFormationPermissions([]Permission{PermissionRead}, LFScopeTable)
	want := []string{"DESCRIBE", "SELECT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLakeFormationPermissionsDeduplicates(t *testing.T) {
	// Read, Write, and Modify all map ResourceLink to DESCRIBE.
	got := LakeFormationPermissions([]Permission{PermissionRead, PermissionWrite, PermissionModify}, LFScopeResourceLink)
	if len(got) != 1 || got[0] != "DESCRIBE" {
		t.Fatalf("got %v, want [DESCRIBE]", got)
	}
}

func TestLakeFormationPermissionsCombined(t *testing.T) {
	got := LakeFormationPermissions([]Permission{PermissionRead, PermissionWrite}, LFScopeDatabase)
	want := map[string]bool{"DESCRIBE": true, "CREATE_TABLE": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys %v", got, want)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected permission %s", p)
		}
	}
}

func TestLakeFormationPermissionsEmpty(t *testing.T) {
	if got := LakeFormationPermissions(nil, LFScopeTable); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
