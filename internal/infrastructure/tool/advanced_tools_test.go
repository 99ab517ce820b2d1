package tool

import (
	"reflect"
	"testing"
)

func TestPatchedPaths_ExtractsTargetFilesFromUnifiedDiff(t *testing.T) {
	patch := `--- a/foo.go
+++ b/foo.go
@@ -1,1 +1,1 @@
-old
+new
--- a/bar.go
+++ b/bar.go
@@ -1,1 +1,1 @@
-old2
+new2
`
	got := patchedPaths(patch)
	want := []string{"foo.go", "bar.go"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patchedPaths() = %v, want %v", got, want)
	}
}

func TestPatchedPaths_SkipsDevNullTargets(t *testing.T) {
	patch := `--- a/deleted.go
+++ /dev/null
@@ -1,1 +0,0 @@
-gone
`
	got := patchedPaths(patch)
	if len(got) != 0 {
		t.Fatalf("expected no paths for a deletion-only patch, got %v", got)
	}
}
