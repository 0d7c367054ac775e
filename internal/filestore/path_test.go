package filestore

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "simple", in: "src/main.py", want: "src/main.py"},
		{name: "backslashes", in: `src\utils\helpers.js`, want: "src/utils/helpers.js"},
		{name: "leading slash", in: "/src/main.py", want: "src/main.py"},
		{name: "traversal rejected", in: "../etc/passwd", wantErr: true},
		{name: "embedded traversal rejected", in: "src/../../etc/passwd", wantErr: true},
		{name: "empty rejected", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizePath(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePath(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileNameAndParentFolderPath(t *testing.T) {
	if got := FileName("src/main.py"); got != "main.py" {
		t.Errorf("FileName() = %q, want main.py", got)
	}
	if got := ParentFolderPath("src/main.py"); got != "src" {
		t.Errorf("ParentFolderPath() = %q, want src", got)
	}
	if got := ParentFolderPath("main.py"); got != "" {
		t.Errorf("ParentFolderPath(root file) = %q, want empty", got)
	}
}

func TestShouldIgnore(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"__MACOSX/src/main.py", true},
		{"src/.DS_Store", true},
		{"src/Thumbs.db", true},
		{"src/._main.py", true},
		{"src/main.py", false},
	}
	for _, tt := range tests {
		if got := ShouldIgnore(tt.path); got != tt.want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExtensionAllowed(t *testing.T) {
	allowed := []string{".js", ".java", ".py", ".zip"}
	if !ExtensionAllowed(".PY", allowed) {
		t.Error("ExtensionAllowed should be case-insensitive")
	}
	if ExtensionAllowed(".exe", allowed) {
		t.Error("ExtensionAllowed should reject .exe")
	}
}
