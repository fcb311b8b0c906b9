// Package tuya provides a client for the Tuya local network protocol.
//
// A Client owns one TCP connection to a device. It builds request
// payloads for the device's profile, encrypts and frames them for the
// configured protocol version, correlates responses and forwards
// unsolicited status pushes to a Listener.
//
// # Connecting
//
//	client, err := tuya.Connect(ctx, tuya.Config{
//	    Host:     "192.168.1.40",
//	    DeviceID: "bf0123456789abcdef",
//	    LocalKey: "0123456789abcdef",
//	    Version:  tuya.Version33,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	dps, err := client.Status(ctx)
//	_, err = client.SetDP(ctx, 1, true)
//	client.StartHeartbeat()
//
// Protocol 3.4 devices need a session key. The client negotiates it
// before the first request and again after a reconnect.
//
// # Testing
//
// FakeDevice answers the protocol from the device side. Connect it to a
// client through a transport.Pipe:
//
//	pipe := transport.NewPipe()
//	dev, _ := tuya.NewFakeDevice(tuya.FakeDeviceConfig{...})
//	dev.Serve(pipe.DeviceConn())
//	client, _ := tuya.NewClient(pipe.ClientConn(), config)
package tuya
