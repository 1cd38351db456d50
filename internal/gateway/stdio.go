package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/argus-sec/toolgate/internal/logger"
)

// StdioLoop reads newline-delimited JSON Requests from r and writes
// one JSON Response per line to w, calling the same Dispatch the
// HTTP transport uses. It returns when r is exhausted or ctx is
// cancelled.
func StdioLoop(ctx context.Context, gw *Gateway, r io.Reader, w io.Writer) error {
	log := logger.New("stdio")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(errorResponse("", "validation_error", "invalid JSON line")); encErr != nil {
				log.Error("writing stdio response: %v", encErr)
			}
			continue
		}

		resp, _ := gw.Dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			log.Error("writing stdio response: %v", err)
		}
	}
	return scanner.Err()
}
