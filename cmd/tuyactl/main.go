// tuyactl talks to a Tuya device on the local network.
//
// Without -watch it connects once, prints the device status as JSON,
// applies any -set assignments and exits. With -watch it keeps the device
// connected, reconnecting as needed, and prints every status update until
// interrupted.
//
// Usage:
//
//	tuyactl -host <addr> -id <device id> -key <local key> [options]
//
// Options:
//
//	-port     Device TCP port (default: 6668)
//	-version  Protocol version (default: 3.3)
//	-timeout  Response timeout (default: 5s)
//	-debug    Protocol debug logging
//	-set      Datapoint to write as id=value, repeatable
//	-watch    Keep running and print status updates
//	-reset    Comma-separated DP ids to reset when status fails
//	-scan     Refresh interval while watching (0 = off)
//
// Example:
//
//	tuyactl -host 192.168.1.20 -id bf0123456789abcdef -key 0123456789abcdef -set 1=true
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/backkem/tuyalan/examples/common"
	"github.com/backkem/tuyalan/pkg/tuya"
)

func main() {
	opts := common.ParseFlags()
	if opts.Host == "" || opts.DeviceID == "" {
		common.PrintUsage()
		os.Exit(2)
	}

	if opts.Watch {
		d, err := common.NewDevice(opts)
		if err != nil {
			log.Fatalf("Failed to create device: %v", err)
		}
		if err := common.RunDevice(d, opts.Set); err != nil {
			log.Fatalf("Device error: %v", err)
		}
		return
	}

	if err := runOnce(opts); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runOnce(opts common.Options) error {
	cfg, err := common.ClientConfig(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*4)
	defer cancel()

	c, err := tuya.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	dps, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	fmt.Println(common.FormatDPS(dps))

	if len(opts.Set) == 0 {
		return nil
	}
	res, err := c.SetDPs(ctx, opts.Set)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return res.Err()
}
