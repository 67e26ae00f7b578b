// Command softcam runs virtual capture devices and inspects running
// daemons.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
