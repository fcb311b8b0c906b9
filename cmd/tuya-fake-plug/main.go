// tuya-fake-plug emulates a Tuya smart plug for trying out tuyactl
// without hardware.
//
// Usage:
//
//	tuya-fake-plug -id <device id> -key <local key> [options]
//
// Options:
//
//	-port     TCP port to listen on (default: 6668)
//	-version  Protocol version (default: 3.3)
//	-debug    Protocol debug logging
//
// Example:
//
//	tuya-fake-plug -id bf0123456789abcdef -key 0123456789abcdef -version 3.4
package main

import (
	"log"
	"net"
	"strconv"

	"github.com/backkem/tuyalan/examples/common"
	"github.com/backkem/tuyalan/examples/plug"
)

func main() {
	opts := common.ParseFlags()

	device, err := plug.NewDevice(opts)
	if err != nil {
		log.Fatalf("Failed to create plug: %v", err)
	}

	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if _, err := device.Listen(net.JoinHostPort(host, strconv.Itoa(opts.Port))); err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	common.WaitForSignal()
	if err := device.Close(); err != nil {
		log.Fatalf("Close error: %v", err)
	}
}
