package station

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/luma/photon/stream"
)

const publishTimeout = time.Second

// StreamStatus is the published state of one stream.
type StreamStatus struct {
	Stream      string          `json:"-"`
	Reliable    stream.Counters `json:"reliable"`
	Unreliable  stream.Counters `json:"unreliable"`
	Queued      int             `json:"queued"`
	Received    uint64          `json:"received"`
	LastPayload string          `json:"lastPayload,omitempty"`
}

func (st *streamState) status() StreamStatus {
	return StreamStatus{
		Stream:      st.Type.String(),
		Reliable:    st.Reliable,
		Unreliable:  st.Unreliable,
		Queued:      len(st.queue),
		Received:    st.received,
		LastPayload: hex.EncodeToString(st.lastPayload),
	}
}

func (e *Exchange) publish(st *streamState) {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := e.store.Set(ctx, []byte("streams."+st.Type.String()), st.status()); err != nil {
		e.log.Warn("Failed to publish stream status", zap.Stringer("stream", st.Type), zap.Error(err))
	}
}

func (e *Exchange) publishLink() {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	link := map[string]uint64{
		"self": e.self,
		"peer": e.peer,
	}

	if err := e.store.Set(ctx, []byte("link"), link); err != nil {
		e.log.Warn("Failed to publish link", zap.Error(err))
	}

	for _, st := range e.streams {
		e.publish(st)
	}
}
