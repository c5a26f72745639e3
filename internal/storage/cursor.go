package storage

import (
	"encoding/base64"
	"strconv"
	"strings"

	"example.com/healthstore/internal/domain"
)

// pageCursor is the resume position encoded into a filter-read page token:
// the sort key and UUID of the last row returned.
type pageCursor struct {
	StartMillis int64
	UUID        string
}

func encodePageToken(c pageCursor) string {
	raw := strconv.FormatInt(c.StartMillis, 10) + "|" + c.UUID
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodePageToken(token string) (pageCursor, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return pageCursor{}, &domain.ValidationError{Index: -1, Reason: "malformed page token"}
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return pageCursor{}, &domain.ValidationError{Index: -1, Reason: "malformed page token"}
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return pageCursor{}, &domain.ValidationError{Index: -1, Reason: "malformed page token"}
	}
	return pageCursor{StartMillis: millis, UUID: parts[1]}, nil
}
