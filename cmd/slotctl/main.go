// Command slotctl inspects and drives save slots directly against the
// configured store, bypassing the queue.
//
// Usage:
//
//	slotctl list
//	slotctl init <slot>
//	slotctl show <slot> [--json]
//	slotctl play <slot> <utterance> [--action persuade --topic vault --probing]
//	slotctl delete <slot>
package main

import (
	"fmt"
	"os"
)

func main() {
	app := &cli{}
	defer app.close()

	if err := newRootCmd(app).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		app.close()
		os.Exit(exitCode(err))
	}
}
