package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/CollideNV/hadron/internal/pipeline"
)

// WriteSSE encodes one Event in the wire format spec.md §6 mandates:
// "id: <sequence_id>\nevent: <event_type>\ndata: <json>\n\n". Flushes after
// each event so the client sees it immediately.
func WriteSSE(w *bufio.Writer, evt pipeline.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event for SSE: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.SequenceID, evt.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
