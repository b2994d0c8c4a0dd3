package oauth

import (
	"fmt"
	"os/exec"
	"runtime"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
	osLinux   = "linux"
)

// SystemBrowser opens URLs with the platform's default browser.
type SystemBrowser struct{}

// OpenURL launches the default browser for the given URL.
func (SystemBrowser) OpenURL(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case osWindows:
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	case osDarwin:
		cmd = "open"
		args = []string{url}
	case osLinux:
		if _, err := exec.LookPath("xdg-open"); err != nil {
			return fmt.Errorf("xdg-open not found in PATH: %w", err)
		}
		cmd = "xdg-open"
		args = []string{url}
	default:
		return fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start()
}
