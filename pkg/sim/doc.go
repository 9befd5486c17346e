/*
Package sim provides a simulated proximity link over TCP for
development and testing without Bluetooth hardware.

The simulated link implements the same message surface as the BLE
connection (transport.Link plus transport.LinkHandler callbacks) and
pushes every message through the real chunking codec, so chunk
semantics, the shutdown sentinel and termination ordering are exercised
end to end:

	holder (Listen/Accept)              reader (Dial)
	    |                                   |
	    |   attribute size (2 bytes BE)     |
	    | <-------------------------------> |
	    |                                   |
	    |   frames: len(2 BE) + chunk       |
	    | <-------------------------------> |

Each side proposes an attribute size at connect time; the effective
chunk size is the minimum of the two, mirroring ATT MTU negotiation.

Peers find each other on the LAN via mDNS/DNS-SD: the holder
advertises the _mdoc-sim._tcp service with its engagement QR string in
a TXT record, the reader browses and dials.
*/
package sim
