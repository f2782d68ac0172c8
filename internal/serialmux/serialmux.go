// Serialmux provides an abstraction over the serial link to a hand-tracking
// bridge, with the ability for multiple clients to subscribe to the lines it
// emits and send commands to the single device.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/colocate/internal/httputil"
	"github.com/banshee-data/colocate/internal/version"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html>
<head><title>tracker bridge</title></head>
<body>
<form method="post" action="send-command-api">
<input name="command" placeholder="STREAM ON" autofocus>
<button type="submit">send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => {
  tail.textContent = (e.data + "\n" + tail.textContent).slice(0, 20000);
};
</script>
</body>
</html>
`))

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to lines from a single serial port.
type SerialMux[T SerialPorter] struct {
	port      T
	subs      fanout
	commandMu sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving lines from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads lines from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	Initialise() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port}
}

// Subscribe registers a new line channel. Pose lines arrive at the bridge's
// frame rate, so the channel is buffered to ride out short stalls.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	return s.subs.add(16)
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subs.remove(id)
}

// Initialise syncs the bridge clock and switches it to streaming both hands
// as 16-float column-major transforms.
func (s *SerialMux[T]) Initialise() error {
	command := fmt.Sprintf("SYNC %d", time.Now().UnixMilli())
	if err := s.SendCommand(command); err != nil {
		return fmt.Errorf("failed to synchronise clock: %w", err)
	}

	for _, command := range []string{
		"HELLO colocate/" + version.Version,
		"FMT POSE16", // column-major 4x4, one hand per line
		"HANDS LR",   // report both hands, left and right
		"TRACK 1",    // include the tracked flag
		"STREAM ON",
	} {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}

	return nil
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor monitors the serial port for lines and sends them to subscribers
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so it cannot hold up
	// the outer loop awaiting lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			// if the channel is closed, we're done reading from the serial port
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
				}
				return nil
			}
			if !s.subs.send(line) {
				return nil
			}
		}
	}
}

// Close closes every subscriber and then the port.
func (s *SerialMux[T]) Close() error {
	s.subs.close()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("tracker", "tracker bridge status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"enabled":     true,
			"subscribers": s.subs.len(),
		})
	})

	// Command form / live tail using the two endpoints below.
	debug.HandleFunc("send-command", "send a command to the tracker bridge", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events stream of lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, c := s.Subscribe()
		defer s.Unsubscribe(id)
		ServeSSE[string](w, r, c, nil)
	})
}

// ServeSSE streams every value received on c as a Server-Sent Event until
// the client goes away or c is closed. format renders one value; nil uses
// fmt.Sprint. Values that fail to format are skipped.
func ServeSSE[V any](w http.ResponseWriter, r *http.Request, c <-chan V, format func(V) (string, error)) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	flusher, _ := w.(http.Flusher)
	w.Write([]byte(": ping\n\n"))
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case v, ok := <-c:
			if !ok {
				return
			}
			var data string
			if format == nil {
				data = fmt.Sprint(v)
			} else {
				var err error
				if data, err = format(v); err != nil {
					continue
				}
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}
