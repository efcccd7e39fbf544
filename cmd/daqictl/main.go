// Command daqictl discovers and streams from DAQiFi-style devices on the
// local network: "daqictl discover" prints every device found, "daqictl
// stream" connects to one and prints decoded samples until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	daqifi "github.com/daqifi/daqifi-client-go"
	"github.com/daqifi/daqifi-client-go/pkg/discovery"
	"github.com/daqifi/daqifi-client-go/pkg/session"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "discover":
		runDiscover(log, os.Args[2:])
	case "stream":
		runStream(log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: daqictl discover [-timeout 2s]")
	fmt.Fprintln(os.Stderr, "       daqictl stream -host <ip> [-port 30303] [-rate 100]")
}

func runDiscover(log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 2*time.Second, "discovery window")
	_ = fs.Parse(args)

	client := daqifi.NewClient(daqifi.WithLogger(log))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	devices, err := client.Discover(ctx, *timeout)
	if err != nil {
		log.WithError(err).Fatal("discover failed")
	}
	if len(devices) == 0 {
		fmt.Println("no devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s:%d\t%s\n", d.Name, d.DeviceKind, d.IPAddress, d.TCPPort, d.MACAddress)
	}
}

func runStream(log *logrus.Entry, args []string) {
	fs := flag.NewFlagSet("stream", flag.ExitOnError)
	host := fs.String("host", "", "device IP address (required)")
	port := fs.Int("port", discovery.DefaultPort, "device TCP port")
	rate := fs.Int("rate", 100, "stream rate in Hz (1..1000)")
	_ = fs.Parse(args)

	if *host == "" {
		log.Fatal("stream requires -host")
	}

	client := daqifi.NewClient(daqifi.WithLogger(log))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	go func() {
		<-sig
		cancel()
	}()

	desc := discovery.DeviceDescriptor{IPAddress: *host, TCPPort: uint16(*port)}
	sess, err := client.Connect(ctx, desc)
	if err != nil {
		log.WithError(err).Fatal("connect failed")
	}
	defer sess.Dispose()

	if err := sess.InitializeAsync(ctx); err != nil {
		log.WithError(err).Fatal("initialize failed")
	}

	sess.OnMessage(func(s session.StreamSample) {
		fmt.Printf("tick=%d rollover=%v analog=%v digital=%v\n", s.DeviceTick, s.WasRollover, s.AnalogRaw, s.DigitalBits)
	})

	if err := sess.Send(session.EnableAnalogMaskCommand(0xFFFFFFFF)); err != nil {
		log.WithError(err).Fatal("enable channels failed")
	}
	if err := sess.StartStreaming(*rate); err != nil {
		log.WithError(err).Fatal("start stream failed")
	}

	<-ctx.Done()
	_ = sess.StopStreaming()
}
