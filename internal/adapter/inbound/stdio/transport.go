// Package stdio implements gatekeep's default transport: newline-delimited
// JSON-RPC messages read from stdin and written to stdout, with diagnostics
// sent to stderr instead. Grounded on original_source's
// src/protocol/transport.py StdioTransport (read_message/write_message/log),
// adapted from its per-call readline loop to a long-running Run method.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gatekeep/gatekeep/internal/dispatch"
)

// maxMessageBytes bounds a single incoming line. A line at or past this
// length is rejected with a parse error rather than decoded.
const maxMessageBytes = 1024 * 1024

// Transport reads JSON-RPC requests line by line from in, dispatches them,
// and writes any response line to out. Diagnostic messages go to diag,
// never to out, so they can never corrupt the protocol stream.
type Transport struct {
	dispatcher *dispatch.ProtocolDispatcher
	in         io.Reader
	out        io.Writer
	diag       io.Writer
}

// NewTransport wires dispatcher to the process's real stdin/stdout/stderr.
func NewTransport(dispatcher *dispatch.ProtocolDispatcher) *Transport {
	return &Transport{
		dispatcher: dispatcher,
		in:         os.Stdin,
		out:        os.Stdout,
		diag:       os.Stderr,
	}
}

// Run blocks reading lines from in until EOF, a read error, or ctx is
// cancelled. A read error or EOF ends the loop silently, mirroring the
// original transport's read_message returning None. Cancellation in
// between lines returns ctx.Err(); a blocking read already in progress is
// only unblocked by the underlying reader closing, same as closing stdin
// on process shutdown.
func (t *Transport) Run(ctx context.Context) error {
	reader := bufio.NewReaderSize(t.in, 64*1024)
	writer := bufio.NewWriter(t.out)
	t.logf("stdio transport ready")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, oversize, err := readLine(reader)
		if err != nil {
			if err != io.EOF {
				t.logf("read error: %v", err)
			}
			return nil
		}

		if oversize {
			if werr := t.writeLine(writer, dispatch.ParseErrorResponse()); werr != nil {
				t.logf("write error: %v", werr)
				return werr
			}
			continue
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp, fatal := t.dispatcher.HandleLine(ctx, line)
		if fatal != nil {
			t.logf("audit trail unavailable, stopping: %v", fatal)
			return fatal
		}
		if resp == nil {
			continue
		}

		if werr := t.writeLine(writer, resp); werr != nil {
			t.logf("write error: %v", werr)
			return werr
		}
	}
}

// readLine returns one newline-delimited line with the terminator stripped.
// oversize is true when the line reached maxMessageBytes before a
// terminator was found; the remainder of that line is drained and dropped
// so the next call starts clean on the following line.
func readLine(r *bufio.Reader) (line []byte, oversize bool, err error) {
	var buf []byte
	for {
		chunk, isPrefix, rerr := r.ReadLine()
		if rerr != nil {
			return nil, false, rerr
		}
		if len(buf)+len(chunk) >= maxMessageBytes {
			for isPrefix {
				_, isPrefix, rerr = r.ReadLine()
				if rerr != nil {
					return nil, true, nil
				}
			}
			return nil, true, nil
		}
		buf = append(buf, chunk...)
		if !isPrefix {
			return buf, false, nil
		}
	}
}

func (t *Transport) writeLine(w *bufio.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func (t *Transport) logf(format string, args ...interface{}) {
	fmt.Fprintf(t.diag, "[gatekeep] "+format+"\n", args...)
}
