// Package autostart installs tx2tx into the XDG autostart directory so
// client machines rejoin the server after login.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const desktopEntry = `[Desktop Entry]
Type=Application
Name=tx2tx
Comment=Software KVM input sharing
Exec={{.ExecLine}}
Terminal=false
X-GNOME-Autostart-enabled=true
`

func entryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autostart", "tx2tx.desktop"), nil
}

// Enable writes the autostart entry, launching the current executable with
// the given arguments on login.
func Enable(args string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: resolve executable: %w", err)
	}

	path, err := entryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmpl, err := template.New("desktop").Parse(desktopEntry)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	execLine := execPath
	if args != "" {
		execLine += " " + args
	}
	return tmpl.Execute(f, struct{ ExecLine string }{execLine})
}

// Disable removes the autostart entry; missing entries are not an error.
func Disable() error {
	path, err := entryPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsEnabled reports whether the autostart entry exists.
func IsEnabled() bool {
	path, err := entryPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
