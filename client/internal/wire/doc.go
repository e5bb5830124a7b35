// Package wire defines the frames exchanged between a sessionbus client
// and its broker, and the codecs that turn them into websocket payloads.
//
// Frames are encoded as positional arrays whose first element is the
// message type code:
//
//	HELLO       [1,  realm, details]
//	WELCOME     [2,  session, details]
//	ABORT       [3,  details, reason]
//	GOODBYE     [6,  details, reason]
//	PUBLISH     [16, request, options, channel, args]
//	SUBSCRIBE   [32, request, options, channel]
//	UNSUBSCRIBE [34, request, channel]
//	EVENT       [36, channel, details, args]
//
// Two codecs are provided: JSON over text frames (subprotocol
// "wamp.2.json") and msgpack over binary frames ("wamp.2.msgpack").
// The rest of the client treats the encoding as opaque and only sees Frame.
package wire
