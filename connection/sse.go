package connection

import (
	"bufio"
	"io"
	"strings"

	"github.com/brightpath/tutorstream/errors"
)

// Message is one server-sent event frame.
type Message struct {
	ID    string
	Event string
	Data  string
}

// maxLineSize bounds a single SSE line; oversized frames indicate a
// misbehaving upstream rather than legitimate traffic.
const maxLineSize = 1 << 20

// parseStream reads server-sent event frames from r and invokes onMessage
// for each complete frame. It returns when the stream ends or errors.
//
// Field handling follows the SSE wire format: "data:" lines accumulate
// (joined with newlines), "event:" and "id:" set frame fields, lines
// starting with ":" are comments (used as keep-alives by the server), and
// a blank line dispatches the accumulated frame.
func parseStream(r io.Reader, onMessage func(Message)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var msg Message
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(dataLines) > 0 || msg.Event != "" {
				msg.Data = strings.Join(dataLines, "\n")
				onMessage(msg)
			}
			msg = Message{ID: msg.ID} // last event ID persists across frames
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "event":
			msg.Event = value
		case "id":
			msg.ID = value
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.WrapTransient(err, "Manager", "parseStream", "read event stream")
	}
	return nil
}
