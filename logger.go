package goRenew

import (
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// defaultLogger writes through the standard library logger with the package
// prefix. Verbose (V>0) lines are off unless stdr.SetVerbosity raises it.
func defaultLogger() logr.Logger {
	return stdr.New(log.New(os.Stderr, "goRenew: ", log.LstdFlags))
}
