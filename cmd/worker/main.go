// Command worker runs the task queue consumer: writeback passes, provider
// publishes, and the periodic record-lock sweep.
package main

import (
	"fmt"
	"os"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/bootstrap"
)

func main() {
	if err := bootstrap.StartWorker(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
