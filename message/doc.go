// Package message defines the Record that flows from an upstream source into a sink.
//
// A Record is an ordered list of named fields together with an opaque delivery
// token. The sink never looks inside the token; it hands the record back to the
// source that produced it when the record has to be acknowledged.
//
// Payloads arrive as JSON objects. DecodeJSON keeps the document's field order,
// which is also the order in which the fields become column insertions:
//
//	rec, err := message.DecodeJSON(msg, msg.Data())
//	if err != nil {
//	    // undecodable payload, see the source's poison handling
//	}
//	id, _ := rec.Value("id")
//
// Text converts a field value into the string written to the store.
package message
