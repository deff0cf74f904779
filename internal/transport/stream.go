package transport

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentmesh/orchestrator/internal/metricscore"
	"github.com/agentmesh/orchestrator/internal/workflow"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// heartbeatIdle is the spec's streaming-surface idle heartbeat interval
// (spec section 6: "each stream sends a heartbeat if idle for 30s").
const heartbeatIdle = 30 * time.Second

// sendBufferSize bounds a stream's outbound queue (spec's bounded
// subscription queue backpressure policy).
const sendBufferSize = 100

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is the envelope written to every stream connection.
type frame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and streams the topic named by
// the URL's {topic} path segment until the client disconnects or a
// fatal error occurs (spec section 6).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	points, cancel, err := s.resolveTopic(topic, r.URL.RawQuery)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readUntilClose(conn, closed)

	writeFrame(conn, frame{Type: "subscribed", Data: map[string]string{"topic": topic}})

	for {
		select {
		case <-closed:
			return
		case p, ok := <-points:
			if !ok {
				writeFrame(conn, frame{Type: "error", Error: "stream source closed"})
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeFrame(conn, frame{Type: "point", Data: p}); err != nil {
				return
			}
		case <-time.After(heartbeatIdle):
			if err := writeFrame(conn, frame{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

// readUntilClose drains (and discards) inbound client frames, closing
// closed once the connection errors or the client sends a close frame.
// The teacher's Client.readPump follows the identical "we don't process
// incoming browser messages, just detect disconnects" shape.
func readUntilClose(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("[TRANSPORT] failed to encode stream frame: %v", err)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// resolveTopic maps a topic string to a channel of matching points and a
// cleanup func, per spec section 6's two core topics. dashboard/* is an
// external-collaborator surface and is not served here.
func (s *Server) resolveTopic(topic, rawQuery string) (<-chan metricscore.Point, func(), error) {
	switch {
	case strings.HasPrefix(topic, "workflow/"):
		id := strings.TrimPrefix(topic, "workflow/")
		return s.subscribeWorkflow(id)

	case strings.HasPrefix(topic, "metrics/"):
		kind := strings.TrimPrefix(topic, "metrics/")
		tags := parseQueryTags(rawQuery)
		sub := s.metrics.Subscribe(kind, tags)
		return sub.C(), func() { s.metrics.Unsubscribe(sub) }, nil

	default:
		return nil, nil, errUnknownTopic
	}
}

var errUnknownTopic = &unknownTopicError{}

type unknownTopicError struct{}

func (*unknownTopicError) Error() string { return "unknown stream topic" }

// subscribeWorkflow merges the Created/Ended lifecycle kinds, filtered
// to workflowID, into a single channel. The returned cleanup func
// unsubscribes both and stops the merge goroutine.
func (s *Server) subscribeWorkflow(workflowID string) (<-chan metricscore.Point, func(), error) {
	tags := map[string]string{"workflow_id": workflowID}
	created := s.metrics.Subscribe(workflow.KindCreated, tags)
	ended := s.metrics.Subscribe(workflow.KindEnded, tags)

	out := make(chan metricscore.Point, sendBufferSize)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case p := <-created.C():
				select {
				case out <- p:
				case <-done:
					return
				}
			case p := <-ended.C():
				select {
				case out <- p:
				case <-done:
					return
				}
			}
		}
	}()

	cleanup := func() {
		close(done)
		s.metrics.Unsubscribe(created)
		s.metrics.Unsubscribe(ended)
	}
	return out, cleanup, nil
}

func parseQueryTags(rawQuery string) map[string]string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil
	}
	raw := values.Get("tags")
	if raw == "" {
		return nil
	}
	tags := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			tags[kv[0]] = kv[1]
		}
	}
	return tags
}
