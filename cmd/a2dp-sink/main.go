// Command a2dp-sink streams an audio file through the A2DP transmit engine to
// a UDP address, a Bluetooth L2CAP channel or an inherited socket descriptor.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("a2dp-sink failed")
		os.Exit(1)
	}
}
