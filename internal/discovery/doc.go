// Package discovery finds and advertises WebSocket link bridges over mDNS.
//
// A bridge relays transport units between a tracker (or the simulator) and
// remote clients. Bridges register the "_minilink._tcp" service with TXT
// records describing the link:
//
//	mtu=20          transport unit size in bytes
//	device=GT-03    name of the tracker behind the bridge
//	path=/link      WebSocket endpoint
//
// # Usage Example
//
//	bridges, err := discovery.QuickScan(ctx, 3*time.Second)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, b := range bridges {
//	    fmt.Println(b, b.URL())
//	}
//
// Advertising:
//
//	ad, err := discovery.Advertise("bench", 8765, discovery.TXTRecords(20, "GT-03", "/link"))
//	if err != nil {
//	    return err
//	}
//	defer ad.Shutdown()
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Bridges must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
