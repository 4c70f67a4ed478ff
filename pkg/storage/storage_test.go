package storage

import "testing"

func TestValidatePath(t *testing.T) {
	valid := []string{"/f.txt", "/a/b/c.csv", "/workspace/output/plot.png"}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{
		"",
		"relative.txt",
		"../escape",
		"/a/../etc/passwd",
		"/a/./b",
		"/a//b",
	}
	for _, p := range invalid {
		if err := ValidatePath(p); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", p)
		}
	}
}
