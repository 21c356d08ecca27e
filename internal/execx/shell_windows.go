//go:build windows

package execx

import (
	"context"
	"os/exec"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// shellCommand runs through a non-interactive PowerShell; cmd.exe quoting
// rules are too fragile for generated command lines.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	return exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
}

// decodeOutput handles console tools that still emit the OEM codepage.
// Valid UTF-8 passes through; anything else is decoded as CP850 with
// replacement, which never fails.
func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.CodePage850.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}
