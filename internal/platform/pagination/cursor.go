// Package pagination implements the opaque page tokens used by list
// endpoints. A token is the base64 form of the Firestore cursor values of the
// last document on the previous page.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPageSize is the number of items returned when the caller does not
// ask for a specific page size.
const DefaultPageSize = 50

// ErrInvalidPageToken is returned when a page token cannot be decoded. The
// token format is opaque to clients, so a bad token means a corrupted or
// hand-built value.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor holds the StartAfter values for the next Firestore query. The slice
// order must match the query's order-by clauses.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// EncodeToken turns a cursor into an opaque page token. An empty cursor
// yields an empty token, which list responses use to signal the final page.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken. An empty or whitespace token decodes to
// the zero cursor, meaning the first page.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
