package ui

import (
	"fmt"

	"github.com/pterm/pterm"
)

// PrintCompactBanner prints a minimal one-line banner.
// Use this sparingly - most commands should not print any banner.
func PrintCompactBanner(version string) {
	fmt.Printf("%s %s\n",
		pterm.Cyan("truss"),
		pterm.Gray(fmt.Sprintf("v%s", version)),
	)
}
