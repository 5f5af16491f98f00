package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mediaproxy/work/client"
	"mediaproxy/work/metrics"
	"mediaproxy/work/middleware"
)

// errClientGone marks a write failure toward the player, usually an abort
// or seek. It is expected and never logged above debug.
var errClientGone = errors.New("client went away")

// output writes env to the player chunk by chunk, refreshing the write
// deadline and flushing after every chunk. When sink is set every chunk is
// also handed to it, before the player write so a disconnect cannot leave
// the sink behind the player. compress applies gzip for accepting clients.
func (mp *MediaProxy) output(w http.ResponseWriter, r *http.Request, env *client.Envelope, compress bool, sink io.Writer) error {
	if compress && mp.Config.CompressManifests && r.Method != http.MethodHead {
		gw, finish := middleware.Gzip(w, r)
		defer finish()
		w = gw
	}

	env.WriteHeader(w)
	if r.Method == http.MethodHead {
		return nil
	}

	rc := http.NewResponseController(w)
	timeout := mp.Config.ClientTimeout
	if timeout > 0 {
		// The deadline outlives the request on keep-alive connections.
		defer rc.SetWriteDeadline(time.Time{})
	}

	var written int64
	defer func() {
		metrics.BytesTransferred.WithLabelValues("downstream").Add(float64(written))
	}()

	for chunk := range env.Stream.Chunks() {
		if timeout > 0 {
			rc.SetWriteDeadline(time.Now().Add(timeout))
		}
		if sink != nil {
			sink.Write(chunk)
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		rc.Flush()
	}

	if err := env.Stream.Err(); err != nil {
		return fmt.Errorf("upstream body: %w", err)
	}
	return nil
}
