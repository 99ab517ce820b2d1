// Copyright 2026 TurnEngine. All rights reserved.

package service

import "testing"

func TestNormalizeMode_MapsLegacyVocabulary(t *testing.T) {
	cases := map[string]ApprovalMode{
		"reject":        ModeReject,
		"default":       ModeDefault,
		"auto-edit":     ModeAutoEdit,
		"yolo":          ModeYolo,
		"auto":          ModeYolo,
		"ask_dangerous": ModeAutoEdit,
		"ask_all":       ModeDefault,
		"nonsense":      ModeDefault,
		"":              ModeDefault,
	}
	for in, want := range cases {
		if got := normalizeMode(in); got != want {
			t.Errorf("normalizeMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyExec_ForbiddenAlwaysWins(t *testing.T) {
	cmds := []string{
		"rm -rf /",
		"rm -fr /*",
		"mkfs.ext4 /dev/sda1",
		"dd if=/dev/zero of=/dev/sda",
		"sudo shutdown -h now",
		":(){ :|:& };:",
	}
	for _, c := range cmds {
		if tier, _, _ := ClassifyExec(c); tier != ExecForbidden {
			t.Errorf("ClassifyExec(%q) tier = %v, want ExecForbidden", c, tier)
		}
	}
}

func TestClassifyExec_CautiousCommands(t *testing.T) {
	cmds := []string{
		"apt-get install nginx",
		"npm install left-pad",
		"systemctl restart sshd",
		"git push origin main --force",
		"kill -9 1234",
		"long_running_job &",
	}
	for _, c := range cmds {
		if tier, _, _ := ClassifyExec(c); tier != ExecCautious {
			t.Errorf("ClassifyExec(%q) tier = %v, want ExecCautious", c, tier)
		}
	}
}

func TestClassifyExec_SafeByDefault(t *testing.T) {
	cmds := []string{"ls -la", "echo hello", "grep -r foo .", "cat file.txt"}
	for _, c := range cmds {
		if tier, navAway, _ := ClassifyExec(c); tier != ExecSafe || navAway {
			t.Errorf("ClassifyExec(%q) = (%v, %v), want (ExecSafe, false)", c, tier, navAway)
		}
	}
}

func TestClassifyExec_NavigationAwayDetected(t *testing.T) {
	tier, navAway, target := ClassifyExec("cd .. && ls")
	if !navAway || target != ".." {
		t.Fatalf("expected navigatesAway with target '..', got navAway=%v target=%q", navAway, target)
	}
	if tier != ExecCautious {
		t.Fatalf("navigation-away should be at least ExecCautious, got %v", tier)
	}

	tier2, navAway2, target2 := ClassifyExec("cd /etc && cat passwd")
	if !navAway2 || target2 != "/etc" {
		t.Fatalf("expected navigatesAway with target '/etc', got navAway=%v target=%q", navAway2, target2)
	}
	if tier2 != ExecCautious {
		t.Fatalf("absolute-path navigation should be at least ExecCautious, got %v", tier2)
	}
}

func TestClassifyExec_RelativeNavigationWithinCwdNotFlagged(t *testing.T) {
	_, navAway, _ := ClassifyExec("cd subdir && ls")
	if navAway {
		t.Fatal("navigating into a relative subdirectory should not be flagged as leaving the root")
	}
}

func TestConfinePath_InsideRoot(t *testing.T) {
	resolved, outside := ConfinePath("/home/user/project/file.go", []string{"/home/user"})
	if outside {
		t.Fatalf("expected inside root, got outside (resolved=%s)", resolved)
	}
}

func TestConfinePath_OutsideRoot(t *testing.T) {
	_, outside := ConfinePath("/etc/passwd", []string{"/home/user"})
	if !outside {
		t.Fatal("expected outside root")
	}
}

func TestConfinePath_ExpandsHome(t *testing.T) {
	resolved, outside := ConfinePath("~/docs/a.txt", []string{"~"})
	if outside {
		t.Fatalf("expected ~ expansion to confine within itself, got outside (resolved=%s)", resolved)
	}
}

func TestRememberedApprovals_RemembersExactMatchOnly(t *testing.T) {
	r := NewRememberedApprovals()
	args := map[string]interface{}{"path": "/tmp/a.txt"}

	if r.Check("file_write", args) {
		t.Fatal("should not be approved before Remember is called")
	}
	r.Remember("file_write", args)
	if !r.Check("file_write", args) {
		t.Fatal("should be approved after Remember")
	}

	otherArgs := map[string]interface{}{"path": "/tmp/b.txt"}
	if r.Check("file_write", otherArgs) {
		t.Fatal("a different path must not be auto-approved")
	}

	r.ClearRemembered()
	if r.Check("file_write", args) {
		t.Fatal("ClearRemembered should wipe all remembered approvals")
	}
}

func TestIsFileToolAndIsEditTool(t *testing.T) {
	if !isFileTool("file_read") || !isFileTool("patch_apply") {
		t.Fatal("file_read and patch_apply should both be file tools")
	}
	if isFileTool("shell_exec") {
		t.Fatal("shell_exec is not a file tool")
	}
	if !isEditTool("ranged_edit") || isEditTool("file_read") {
		t.Fatal("ranged_edit should be an edit tool, file_read should not")
	}
}
