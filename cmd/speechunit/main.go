// Command speechunit trains speech unit codebooks and quantizes audio with them.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
