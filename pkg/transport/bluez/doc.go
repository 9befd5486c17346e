/*
Package bluez implements the transport.Central interface on Linux via
the BlueZ D-Bus API.

The central drives the reader's GATT server over org.bluez objects on
the system bus: device discovery through Adapter1, connection and ATT
MTU through Device1, characteristic I/O and notifications through
GattCharacteristic1 PropertiesChanged signals. L2CAP
connection-oriented channels use an AF_BLUETOOTH SOCK_SEQPACKET socket
directly, since BlueZ exposes no client-side channel API.

All platform outcomes are translated into transport events and
delivered sequentially to the connection's event sink.
*/
package bluez
