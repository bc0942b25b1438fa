package presence

import (
	"net/http"
	"net/http/httputil"
	"os"

	"github.com/rs/zerolog"
)

// debugTransport dumps every REST request and response at debug level.
//
// Enable with VENDOR_PRESENCE_DEBUG=true, DEBUG=true or WithDebugLogging.
// Dumps carry the Authorization header and full bodies, so keep it to
// development and test environments.
type debugTransport struct {
	base http.RoundTripper
	log  *zerolog.Logger
}

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := dt.base
	if base == nil {
		base = http.DefaultTransport
	}
	l := dt.log

	if reqDump, err := httputil.DumpRequestOut(req, true); err == nil {
		l.Debug().Str("method", req.Method).Str("url", req.URL.String()).Str("request_dump", string(reqDump)).Msg("HTTP request")
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		l.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("HTTP request failed")
		return nil, err
	}

	if respDump, err := httputil.DumpResponse(resp, true); err == nil {
		l.Debug().Str("method", req.Method).Str("url", req.URL.String()).Int("status_code", resp.StatusCode).Str("response_dump", string(respDump)).Msg("HTTP response")
	}
	return resp, nil
}

// debugLoggingRequested reports whether VENDOR_PRESENCE_DEBUG or DEBUG is
// set to "true".
func debugLoggingRequested() bool {
	return os.Getenv("VENDOR_PRESENCE_DEBUG") == "true" || os.Getenv("DEBUG") == "true"
}
