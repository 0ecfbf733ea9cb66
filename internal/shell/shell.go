// Package shell derives the platform shell configuration used to run
// command-string tool invocations.
package shell

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Family tags the grammar family of the configured shell.
type Family string

const (
	FamilyPosix      Family = "posix"
	FamilyWindowsCmd Family = "windows-cmd"
	FamilyPowershell Family = "windows-powershell"
)

// Config describes how to invoke the platform shell with a command string.
// It is computed once per process and immutable thereafter.
type Config struct {
	// Executable is the shell binary path or name.
	Executable string
	// ArgPrefix are the arguments that precede the command string,
	// e.g. ["-c"] for POSIX shells or ["-Command"] for PowerShell.
	ArgPrefix []string
	// Family is the shell grammar family.
	Family Family
}

// Argv builds the full argument vector for running command under this shell.
func (c Config) Argv(command string) []string {
	argv := make([]string, 0, len(c.ArgPrefix)+2)
	argv = append(argv, c.Executable)
	argv = append(argv, c.ArgPrefix...)
	argv = append(argv, command)
	return argv
}

var (
	once   sync.Once
	cached Config
)

// Detect returns the process-wide shell configuration.
func Detect() Config {
	once.Do(func() {
		cached = detect(runtime.GOOS, os.Getenv)
	})
	return cached
}

// detect computes the configuration from the OS and environment.
// Split out for tests.
func detect(goos string, getenv func(string) string) Config {
	if goos == "windows" {
		// PowerShell is preferred when present; COMSPEC cmd is the fallback.
		for _, ps := range []string{"pwsh", "powershell"} {
			if path, err := exec.LookPath(ps); err == nil {
				return Config{
					Executable: path,
					ArgPrefix:  []string{"-NoProfile", "-Command"},
					Family:     FamilyPowershell,
				}
			}
		}
		comspec := getenv("COMSPEC")
		if comspec == "" {
			comspec = "cmd.exe"
		}
		return Config{
			Executable: comspec,
			ArgPrefix:  []string{"/d", "/s", "/c"},
			Family:     FamilyWindowsCmd,
		}
	}

	if s := getenv("SHELL"); s != "" && supportedPosixShell(s) {
		return Config{Executable: s, ArgPrefix: []string{"-c"}, Family: FamilyPosix}
	}

	if goos == "darwin" {
		return Config{Executable: "/bin/zsh", ArgPrefix: []string{"-c"}, Family: FamilyPosix}
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return Config{Executable: bash, ArgPrefix: []string{"-c"}, Family: FamilyPosix}
	}

	return Config{Executable: "/bin/sh", ArgPrefix: []string{"-c"}, Family: FamilyPosix}
}

// supportedPosixShell excludes shells whose grammar we cannot treat as POSIX.
func supportedPosixShell(path string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	switch base {
	case "fish", "nu", "elvish", "xonsh":
		return false
	}
	return true
}
