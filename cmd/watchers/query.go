package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/process-watchers/pkg/db"
	"github.com/morezero/process-watchers/pkg/watcher"
	"github.com/morezero/process-watchers/pkg/wire"
)

var querySeq atomic.Uint32

// query is one get, set, ls or tree command against a watcher process.
type query struct {
	cmd     string
	subject string
	path    string
	value   string
}

func (q *query) request() wire.Request {
	req := wire.Request{Seq: querySeq.Add(1), Path: q.path}
	switch q.cmd {
	case "get":
		req.Msg = wire.MsgTell2
	case "set":
		req.Msg, req.Text = wire.MsgSetTell, q.value
	case "ls":
		req.Msg = wire.MsgChildrenTell2
	default:
		req.Msg = wire.MsgTell
	}
	return req
}

func (q *query) run(ctx context.Context, nc *comms.Conn, w io.Writer) error {
	req := q.request()
	packet, err := wire.EncodeRequest(req)
	if err != nil {
		return err
	}
	msg, err := nc.RequestWithContext(ctx, q.subject, packet)
	if err != nil {
		return fmt.Errorf("request %s: %w", q.subject, err)
	}
	rep, err := wire.DecodeReply(msg.Data)
	if err != nil {
		return err
	}
	if rep.Msg != req.Msg || rep.Seq != req.Seq {
		return fmt.Errorf("reply (%s, %d) does not match request (%s, %d)", rep.Msg, rep.Seq, req.Msg, req.Seq)
	}
	return printReply(w, req, rep.Body)
}

func printReply(w io.Writer, req wire.Request, body []byte) error {
	switch req.Msg {
	case wire.MsgTell2:
		if wire.IsFailure(body) {
			return fmt.Errorf("no value at %q", req.Path)
		}
		r := wire.NewReader(body)
		v, mode, err := r.Value()
		if err != nil {
			return err
		}
		doc, _ := r.String()
		printValue(w, v, mode, doc)
		return nil

	case wire.MsgChildrenTell2:
		if wire.IsFailure(body) {
			return fmt.Errorf("%q is not a container", req.Path)
		}
		children, err := wire.DecodeChildren(body, true)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, c := range children {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Label, c.Mode, c.Value.Type, c.Doc)
		}
		return tw.Flush()

	default:
		records, err := wire.DecodeRecords(body, true)
		if err != nil {
			return err
		}
		// A failed v1 request answers with one record holding the error as its doc.
		if len(records) == 1 && records[0].Value == "" {
			if werr, ok := watcher.ParseError(records[0].Doc); ok {
				return werr
			}
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.Path, rec.Value, rec.Doc)
		}
		return tw.Flush()
	}
}

// printValue prints a value; merged relay values print the peer output then one result per line.
func printValue(w io.Writer, v watcher.Value, mode watcher.Mode, doc string) {
	if v.Type == watcher.TypeTuple && len(v.Tuple) == 2 && v.Tuple[0].Type == watcher.TypeString &&
		v.Tuple[1].Type == watcher.TypeTuple {
		if out := strings.TrimRight(v.Tuple[0].Str, "\n"); out != "" {
			fmt.Fprintln(w, out)
		}
		for i, r := range v.Tuple[1].Tuple {
			fmt.Fprintf(w, "[%d] %s\n", i, r)
		}
		return
	}
	fmt.Fprintf(w, "%s (%s %s)\n", v, v.Type, mode)
	if doc != "" {
		fmt.Fprintf(w, "  %s\n", doc)
	}
}

func printPeers(w io.Writer, rows []db.PeerRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDRESS\tLOAD\tVERSION\tRESOURCES\tSEEN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%s\t%s\n",
			r.ID, r.Address, r.Load, r.Version, strings.Join(r.Resources, ","), r.Modified.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}
