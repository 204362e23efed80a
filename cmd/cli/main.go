// Command packrat-cli inspects and repairs collector state in the record store.
//
//	packrat-cli offsets get --topic hc-json --partition 0
//	packrat-cli offsets set --topic hc-json --partition 0 --offset 1200
//	packrat-cli namespaces list
//	packrat-cli namespaces provision hc-json hc-file
//	packrat-cli records sessions --topic hc-json --emitter <uuid>
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(openMongo, os.Stdout).Execute(); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
