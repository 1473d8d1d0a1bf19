// Package obs configures the process-wide logrus logger once at
// startup, from the CLI entry point.
package obs

import (
	log "github.com/sirupsen/logrus"
)

// Configure sets the global logrus level and formatter. verbose
// selects debug level; otherwise info.
func Configure(verbose bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}
