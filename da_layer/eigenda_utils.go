package da

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/NethermindEth/chaoschain-persona/contentstore"
)

// classify wraps a disperser error so the sync pool can tell retryable
// failures from ones it must give up on.
func classify(msg string, err error) error {
	switch status.Code(err) {
	case codes.ResourceExhausted, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %v", msg, contentstore.ErrPrecondition, err)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %v", msg, contentstore.ErrMalformedPayload, err)
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %v", msg, contentstore.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// removeNullBytesPadding removes null bytes padding from both ends of the data
func removeNullBytesPadding(data []byte) []byte {
	var startPos int
	for startPos = 0; startPos < len(data); startPos++ {
		if data[startPos] != 0 {
			break
		}
	}

	var endPos int
	for endPos = len(data) - 1; endPos >= 0; endPos-- {
		if data[endPos] != 0 {
			break
		}
	}

	if startPos > endPos {
		return []byte{}
	}
	return data[startPos : endPos+1]
}
