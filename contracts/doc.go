// Package contracts provides the message shape exchanged between clients, the
// relay and the server.
//
// A Message is a payload-agnostic map of field names to values:
//   - body: the application payload, opaque to the relay
//   - tag: the correlation identifier, present only while a request is in
//     flight between the relay and the server
//
// The relay adds the tag before forwarding a request and strips it before a
// response reaches the client, so clients never see it.
package contracts
