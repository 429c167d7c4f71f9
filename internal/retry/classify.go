package retry

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// Classify maps a download failure to an ErrorKind, combining the
// HTTP status (when present) with the underlying transport error.
// Context cancellation is never classified as retryable: it is
// treated as a shutdown signal, not a transient fault.
func Classify(statusCode int, err error) (kind crawltypes.ErrorKind, retryable bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return crawltypes.ErrorKindTimeout, false
	}

	if statusCode > 0 {
		kind = crawltypes.ClassifyHTTPStatus(statusCode)
		switch kind {
		case crawltypes.ErrorKindUnauthorized:
			return kind, false
		case crawltypes.ErrorKindTimeout:
			return kind, true
		case crawltypes.ErrorKindRateLimit, crawltypes.ErrorKindServer5xx, crawltypes.ErrorKindBadGateway:
			return kind, true
		default:
			if statusCode >= 400 && statusCode < 500 {
				return crawltypes.ErrorKindOther, false
			}
			return kind, statusCode == 0
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawltypes.ErrorKindDNS, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawltypes.ErrorKindTimeout, true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return crawltypes.ErrorKindConnection, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return crawltypes.ErrorKindConnection, true
	}

	return crawltypes.ErrorKindOther, true
}
