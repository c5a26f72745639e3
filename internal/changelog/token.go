package changelog

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"example.com/healthstore/internal/domain"
)

const tokenVersion = "v1"

// Tokens are opaque to callers: a versioned reference to a durable token row.
func encodeToken(id int64) string {
	raw := tokenVersion + "|" + strconv.FormatInt(id, 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeToken(token string) (int64, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return 0, fmt.Errorf("%w: undecodable token", domain.ErrInvalidToken)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[0] != tokenVersion {
		return 0, fmt.Errorf("%w: malformed token", domain.ErrInvalidToken)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed token", domain.ErrInvalidToken)
	}
	return id, nil
}
