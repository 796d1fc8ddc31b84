package config

import (
	"fmt"
	"io"
	"log"
	"os"
)

var exit = os.Exit

// Exitf writes a formatted fatal message to stderr, prefixed with the
// process log prefix, and exits with code 1.
func Exitf(format string, args ...any) {
	writeFatal(os.Stderr, format, args...)
	exit(1)
}

func writeFatal(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s"+format+"\n", append([]any{log.Prefix()}, args...)...)
}
