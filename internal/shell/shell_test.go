package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDetect_PosixFromShellEnv(t *testing.T) {
	cfg := detect("linux", env(map[string]string{"SHELL": "/bin/zsh"}))
	assert.Equal(t, "/bin/zsh", cfg.Executable)
	assert.Equal(t, []string{"-c"}, cfg.ArgPrefix)
	assert.Equal(t, FamilyPosix, cfg.Family)
}

func TestDetect_UnsupportedShellFallsBack(t *testing.T) {
	cfg := detect("linux", env(map[string]string{"SHELL": "/usr/bin/fish"}))
	assert.NotEqual(t, "/usr/bin/fish", cfg.Executable)
	assert.Equal(t, FamilyPosix, cfg.Family)
}

func TestDetect_DarwinDefault(t *testing.T) {
	cfg := detect("darwin", env(nil))
	assert.Equal(t, "/bin/zsh", cfg.Executable)
	assert.Equal(t, FamilyPosix, cfg.Family)
}

func TestDetect_WindowsCmdFallback(t *testing.T) {
	// PowerShell lookup fails on non-Windows test hosts, exercising the
	// COMSPEC fallback path.
	cfg := detect("windows", env(map[string]string{"COMSPEC": `C:\Windows\system32\cmd.exe`}))
	if cfg.Family == FamilyPowershell {
		t.Skip("powershell present on test host")
	}
	assert.Equal(t, `C:\Windows\system32\cmd.exe`, cfg.Executable)
	assert.Equal(t, FamilyWindowsCmd, cfg.Family)
	assert.Equal(t, []string{"/d", "/s", "/c"}, cfg.ArgPrefix)
}

func TestArgv(t *testing.T) {
	cfg := Config{Executable: "/bin/bash", ArgPrefix: []string{"-c"}, Family: FamilyPosix}
	assert.Equal(t, []string{"/bin/bash", "-c", "ls -la"}, cfg.Argv("ls -la"))
}

func TestDetect_Cached(t *testing.T) {
	first := Detect()
	second := Detect()
	assert.Equal(t, first, second)
}
