/*
Package holder orchestrates one credential presentation session on the
device side.

A Session binds an ephemeral key pair, a device engagement, the session
cryptography engine and one transport link. The holder publishes the
engagement (QR), waits for the reader to connect, and then serves
encrypted requests until either side terminates:

	reader                                         holder
	  |                                              |
	  |  SessionEstablishment(EReaderKey, request)   |
	  | -------------------------------------------> |
	  |                                              | derive keys,
	  |                                              | decrypt, handle
	  |          SessionData(response)               |
	  | <------------------------------------------- |
	  |  SessionData(request)                        |
	  | -------------------------------------------> |
	  |              ...                             |
	  |  SessionData(status 20)                      |
	  | <------------------------------------------> |

Session implements transport.LinkHandler, so it plugs directly into a
BLE connection or the simulated link as the callback target.

ReaderSession is the reader-side counterpart used by simulators and
tests: it parses the QR engagement, performs the reader half of the key
agreement and produces/consumes the same envelopes.
*/
package holder
