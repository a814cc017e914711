package common

// ANSI colors for cheatd command output.
const (
	ColorReset = "\033[0m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorCyan  = "\033[36m"
)

// Colorize wraps s in color and a trailing reset.
func Colorize(color, s string) string {
	return color + s + ColorReset
}
