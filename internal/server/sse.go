package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/gridcache"
)

const (
	sseBuffer    = 16
	sseHeartbeat = 30 * time.Second
)

// SSE event names.
const (
	eventGridState  = "grid_state"
	eventCellUpdate = "cell_update"
)

type sseEvent struct {
	name string
	data []byte
}

// cellStream follows one grid cache for one SSE connection. Changes are
// queued from the store's feed goroutine and written by the handler.
type cellStream struct {
	events  chan sseEvent
	dropped func()
}

func newCellStream(dropped func()) *cellStream {
	return &cellStream{events: make(chan sseEvent, sseBuffer), dropped: dropped}
}

// push queues a cell update without blocking. A stream whose buffer is full
// misses the update.
func (st *cellStream) push(v cell.Cell) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case st.events <- sseEvent{name: eventCellUpdate, data: data}:
	default:
		if st.dropped != nil {
			st.dropped()
		}
	}
}

// serve writes the grid snapshot followed by every change of c until the
// request ends.
func (st *cellStream) serve(w http.ResponseWriter, r *http.Request, c *gridcache.Cache, heartbeat time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Follow before taking the snapshot so no change falls in between. A
	// change may then appear both in the snapshot and as an update.
	unsubscribe := c.OnChange(st.push)
	defer unsubscribe()

	snapshot, err := json.Marshal(gridState(c))
	if err != nil {
		http.Error(w, "encode grid", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	writeEvent(w, sseEvent{name: eventGridState, data: snapshot})
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-st.events:
			writeEvent(w, evt)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt sseEvent) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.name, evt.data)
}
