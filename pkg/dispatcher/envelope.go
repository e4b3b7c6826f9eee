// Package dispatcher executes watcher request packets against a tree and renders v1 text
// queries as JSON for the HTTP surface.
package dispatcher

import (
	"context"

	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

// Response is the JSON envelope of a text query.
type Response struct {
	Path    string       `json:"path"`
	Ok      bool         `json:"ok"`
	Records []Entry      `json:"records,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Entry is one leaf of a text query reply.
type Entry struct {
	Path  string `json:"path"`
	Value string `json:"value"`
	Doc   string `json:"doc,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Text reads path through the v1 protocol. A directory expands to one entry per leaf.
func (d *Dispatcher) Text(ctx context.Context, path string) *Response {
	return d.text(ctx, wire.Request{Msg: wire.MsgTell, Path: path})
}

// SetText writes value to path through the v1 protocol and returns the stored result.
func (d *Dispatcher) SetText(ctx context.Context, path, value string) *Response {
	return d.text(ctx, wire.Request{Msg: wire.MsgSetTell, Path: path, Text: value})
}

func (d *Dispatcher) text(ctx context.Context, req wire.Request) *Response {
	pr := d.execute(ctx, req)
	resp := &Response{Path: watcher.CleanPath(req.Path)}
	if err := pr.Err(); err != nil {
		resp.Error = errorDetail(err)
		return resp
	}

	records, err := wire.DecodeRecords(pr.Body(), true)
	if err != nil {
		resp.Error = errorDetail(err)
		return resp
	}
	resp.Ok = true
	resp.Records = make([]Entry, len(records))
	for i, r := range records {
		resp.Records[i] = Entry{Path: r.Path, Value: r.Value, Doc: r.Doc}
	}
	return resp
}

// Rejected is the envelope of a text query refused before it reached the tree.
func Rejected(path string, reason error) *Response {
	return &Response{Path: watcher.CleanPath(path), Error: errorDetail(reason)}
}

func errorDetail(err error) *ErrorDetail {
	code := watcher.AsError(err).Code
	return &ErrorDetail{
		Code:      code,
		Message:   err.Error(),
		Retryable: code == watcher.CodePeerUnreachable || code == watcher.CodeInternal || code == watcher.CodeRateLimited,
	}
}
