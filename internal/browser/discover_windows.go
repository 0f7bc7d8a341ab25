//go:build windows

package browser

import (
	"os"
	"path/filepath"
)

// platformCandidates lists ordered executable paths to probe on Windows,
// under both Program Files and the user's LocalAppData.
func platformCandidates() []string {
	programFiles := os.Getenv("ProgramFiles")
	programFilesX86 := os.Getenv("ProgramFiles(x86)")
	localAppData := os.Getenv("LocalAppData")

	var out []string
	add := func(base, rel string) {
		if base != "" {
			out = append(out, filepath.Join(base, rel))
		}
	}

	add(programFiles, filepath.Join("Google", "Chrome", "Application", "chrome.exe"))
	add(programFilesX86, filepath.Join("Google", "Chrome", "Application", "chrome.exe"))
	add(localAppData, filepath.Join("Google", "Chrome", "Application", "chrome.exe"))
	add(programFiles, filepath.Join("Chromium", "Application", "chrome.exe"))
	add(programFiles, filepath.Join("BraveSoftware", "Brave-Browser", "Application", "brave.exe"))
	add(programFilesX86, filepath.Join("BraveSoftware", "Brave-Browser", "Application", "brave.exe"))
	add(localAppData, filepath.Join("BraveSoftware", "Brave-Browser", "Application", "brave.exe"))

	return out
}

// isExecutable reports whether path exists and is a regular file. Windows
// has no POSIX executable bit; existence is the best available signal.
func isExecutable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return true
}
