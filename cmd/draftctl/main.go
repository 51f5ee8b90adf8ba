// Command draftctl edits and saves code drafts against the draft backend and
// takes timed exams from the terminal.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
