// Command matcher composes a waveform from a parent WAV file and a folder of child WAV
// files by picking, frame by frame, the child sample whose wrap-around distance to the
// parent best fits a growing threshold.
package main

import (
	"fmt"
	"os"

	"github.com/cwbudde/algo-matcher/cmd/matcher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		die("%v", err)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "matcher: "+format+"\n", args...)
	os.Exit(1)
}
