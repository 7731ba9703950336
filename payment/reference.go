package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultReferencePrefix starts every transaction reference.
const DefaultReferencePrefix = "NARI"

// ErrUnknownReference signals a reference that does not resolve to a client.
var ErrUnknownReference = errors.New("payment: unknown transaction reference")

// Reference identifies one payment attempt: {prefix}-{user id}-{unix seconds}.
type Reference struct {
	Prefix   string
	UserID   string
	IssuedAt time.Time
}

func NewReference(prefix, userID string, at time.Time) Reference {
	return Reference{Prefix: prefix, UserID: userID, IssuedAt: at.UTC().Truncate(time.Second)}
}

func (r Reference) String() string {
	return fmt.Sprintf("%s-%s-%d", r.Prefix, r.UserID, r.IssuedAt.Unix())
}

// ParseReference splits raw into its parts. The user id is a UUID and
// contains dashes itself, so the timestamp is taken from the last dash.
func ParseReference(prefix, raw string) (Reference, error) {
	rest, ok := strings.CutPrefix(raw, prefix+"-")
	if !ok {
		return Reference{}, fmt.Errorf("%w: bad prefix", ErrUnknownReference)
	}
	idx := strings.LastIndexByte(rest, '-')
	if idx <= 0 {
		return Reference{}, fmt.Errorf("%w: missing timestamp", ErrUnknownReference)
	}

	id, err := uuid.Parse(rest[:idx])
	if err != nil {
		return Reference{}, fmt.Errorf("%w: bad user id", ErrUnknownReference)
	}
	secs, err := strconv.ParseInt(rest[idx+1:], 10, 64)
	if err != nil || secs <= 0 {
		return Reference{}, fmt.Errorf("%w: bad timestamp", ErrUnknownReference)
	}

	return Reference{Prefix: prefix, UserID: id.String(), IssuedAt: time.Unix(secs, 0).UTC()}, nil
}
