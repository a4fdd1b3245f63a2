package browser

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenURL opens u in the platform's default browser.
func OpenURL(u string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: launching opener: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return nil
}
