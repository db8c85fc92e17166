// Command upnpnode runs a UPnP 1.0 SSDP node: it can publish a device
// description over multicast and serve it over HTTP (publish), or
// search the network for devices and services (scan).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
