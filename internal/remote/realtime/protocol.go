// Package realtime carries the remote document store contract over a
// websocket. Hub serves any remote.Store to websocket clients; Client
// implements remote.Store against a Hub.
//
// Every frame is one JSON object. Requests carry a client-chosen ref that
// the hub echoes on the matching result or error frame. Live queries are
// named by a client-chosen sub id; snapshot frames for a sub arrive in
// commit order, and an error frame carrying a sub id ends that live query.
package realtime

import (
	"github.com/roach88/fellowship/internal/remote"
)

// Frame types.
const (
	FrameGet      = "get"
	FrameQuery    = "query"
	FrameCommit   = "commit"
	FrameListen   = "listen"
	FrameUnlisten = "unlisten"
	FrameResult   = "result"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is the single wire message shape.
type Frame struct {
	Type       string           `json:"type"`
	Ref        string           `json:"ref,omitempty"`
	Sub        string           `json:"sub,omitempty"`
	Collection string           `json:"collection,omitempty"`
	ID         string           `json:"id,omitempty"`
	Query      *remote.Query    `json:"query,omitempty"`
	Writes     []remote.Write   `json:"writes,omitempty"`
	Document   *remote.Document `json:"document,omitempty"`
	Snapshot   *remote.Snapshot `json:"snapshot,omitempty"`
	Code       string           `json:"code,omitempty"`
	Message    string           `json:"message,omitempty"`
}

func errorFrame(ref, sub string, err error) Frame {
	return Frame{
		Type:    FrameError,
		Ref:     ref,
		Sub:     sub,
		Code:    remote.ErrorCode(err),
		Message: err.Error(),
	}
}

func (f Frame) err() error {
	return remote.CodeError(f.Code, f.Message)
}
