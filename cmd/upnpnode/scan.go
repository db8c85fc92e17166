package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/halvorsen/upnpnode/internal/iface"
	"github.com/halvorsen/upnpnode/internal/node"
	"github.com/halvorsen/upnpnode/internal/scanner"
	"github.com/halvorsen/upnpnode/internal/ssdp"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search the network for SSDP devices and services",
	RunE:  runScan,
}

var (
	scanURN  string
	scanUUID string
)

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanURN, "urn", "", "device/service URN to search for (default ssdp:all)")
	f.StringVar(&scanUUID, "uuid", "", "device UUID to search for")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger()
	reg := maybeServeMetrics(log)

	n := node.New(
		node.WithMulticastGroup(cfg.MulticastGroup, cfg.MulticastPort),
		node.WithMX(cfg.MX),
		node.WithLogger(log),
	)
	if reg != nil {
		n = n.SetMetrics(reg, "upnpnode")
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer n.Close()

	query := ssdp.Message{URN: scanURN, UUID: scanUUID, MX: cfg.MX}
	done := make(chan struct{})
	seen := make(map[string]bool)

	s, err := n.StartScan(query, scanner.Callbacks{
		OnMessageReceived: func(msg ssdp.Message, reply bool, _ int) {
			if seen[msg.USN()] {
				return
			}
			seen[msg.USN()] = true
			fmt.Printf("%s\tusn=%s\tlocation=%s\n", time.Now().Format(time.RFC3339), msg.USN(), describeLocation(msg))
		},
		OnMessageByeBye: func(msg ssdp.Message) {
			fmt.Printf("%s\tbyebye\tusn=%s\n", time.Now().Format(time.RFC3339), msg.USN())
		},
		OnSearchTimedOut: func(int) {
			close(done)
		},
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	defer s.Close()

	const searchID = 1
	s.Search(searchID)
	<-done
	return nil
}

func describeLocation(msg ssdp.Message) string {
	if msg.Location == nil {
		return "(none)"
	}
	// A remote URL descriptor (the only kind a scan observes) ignores its
	// node/iface arguments and just returns the URL it was built from.
	url, err := msg.Location.LocationFor(nil, iface.Info{})
	if err != nil {
		return msg.Location.Name()
	}
	return url
}
