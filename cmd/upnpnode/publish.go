package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/halvorsen/upnpnode/internal/location"
	"github.com/halvorsen/upnpnode/internal/node"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a device description and answer SSDP searches for it",
	RunE:  runPublish,
}

func init() {
	f := publishCmd.Flags()
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "port to serve the device description on")
	f.StringVar(&cfg.UUID, "uuid", cfg.UUID, "device UUID (generated if empty)")
	f.StringVar(&cfg.DeviceName, "device-name", "generic", "device type name, e.g. \"MediaServer\"")
	f.IntVar(&cfg.DeviceVer, "device-version", cfg.DeviceVer, "device type version")
	f.StringVar(&cfg.LocationSpec, "location", "", "device description: a URL, inline XML, or a file path")
	f.BoolVar(&cfg.SayByeByeOnClose, "byebye-on-close", cfg.SayByeByeOnClose, "announce byebye for published messages on shutdown")
}

func runPublish(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LocationSpec == "" {
		return fmt.Errorf("publish: --location is required")
	}
	if cfg.UUID == "" {
		cfg.UUID = uuid.New().String()
	}

	log := newLogger()
	reg := maybeServeMetrics(log)

	n := node.New(
		node.WithMulticastGroup(cfg.MulticastGroup, cfg.MulticastPort),
		node.WithHTTPPort(cfg.HTTPPort),
		node.WithTTL(cfg.TTL),
		node.WithMX(cfg.MX),
		node.WithSayByeByeOnClose(cfg.SayByeByeOnClose),
		node.WithLogger(log),
	)
	if reg != nil {
		n = n.SetMetrics(reg, "upnpnode")
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer n.Close()

	urn := ssdp.DeviceURN(cfg.DeviceName, cfg.DeviceVer)
	name := location.NameFromPath(fmt.Sprintf("%s.xml", cfg.DeviceName))
	desc, err := location.Select(name, cfg.LocationSpec)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	msg := ssdp.Message{UUID: cfg.UUID, URN: urn, Location: desc, TTL: cfg.TTL}
	if err := n.Publish(msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"uuid": cfg.UUID,
		"urn":  urn,
		"usn":  msg.USN(),
	}).Info("publishing device, press Ctrl+C to withdraw and exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}
