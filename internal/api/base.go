package api

import (
	"context"
	"encoding/json"
	"fmt"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/transport"
)

// call sends req and decodes the body into out when the status is one of
// want. Any other status becomes a classified HTTP error. It returns the
// status code so callers can branch on expected non-success codes.
func call(ctx context.Context, s transport.Sender, req transport.Request, out any, want ...int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	resp, err := s.Send(ctx, req)
	if err != nil {
		return 0, err
	}
	for _, code := range want {
		if resp.StatusCode != code {
			continue
		}
		if out != nil && len(resp.Body) > 0 {
			if err := json.Unmarshal(resp.Body, out); err != nil {
				return resp.StatusCode, perrors.Protocolf("%s: decode response: %v", req.Operation, err)
			}
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, perrors.NewHTTPError(resp.StatusCode, truncate(resp.Body), req.Operation)
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

func pathf(format string, args ...any) string { return fmt.Sprintf(format, args...) }
