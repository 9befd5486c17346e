/*
Package engagement implements the out-of-band engagement structures a
holder publishes before a presentation session.

The holder generates an ephemeral key pair, wraps the public key in a
DeviceEngagement structure together with the retrieval methods it
supports, and hands the result to the reader as a QR code:

	  holder                                reader
	    |                                     |
	    |  DeviceEngagement ("mdoc:" QR URI)  |
	    | ----------------------------------> |
	    |                                     |
	    |     connect via retrieval method    |
	    | <---------------------------------- |

Both sides then assemble the identical session transcript from the
device engagement bytes, the reader's ephemeral key bytes and the
handover record. The transcript feeds session key derivation; any
disagreement between the two sides surfaces as decryption failure on
the first message.
*/
package engagement
