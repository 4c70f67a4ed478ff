package worker

import "strings"

// noisePrefixes are the line openings produced by the module loader and
// package installation machinery. These originate from dependency loading,
// not from user code, and are stripped from captured stdout.
var noisePrefixes = []string{
	"loading module ",
	"installing package ",
}

// stripInstallNoise removes loader/installer progress lines from captured
// output. Lines of the form "module X loaded from Y" and
// "package X loaded from Y" are also dropped.
func stripInstallNoise(out string) string {
	if out == "" {
		return out
	}

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isNoise(line string) bool {
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	if strings.HasPrefix(line, "module ") || strings.HasPrefix(line, "package ") {
		return strings.Contains(line, " loaded from ")
	}
	return false
}
