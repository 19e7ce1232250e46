package deviceflow

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a device authorization ticket.
//
// Transitions are monotonic and irreversible:
//
//	pending → authorized → consumed
//	pending | authorized → expired
//
// A ticket is consumed (turned into a session credential) at most once;
// replays are rejected. The repository's UpdateStatus check-and-set is the
// only way a transition happens.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusConsumed   Status = "consumed"
	StatusExpired    Status = "expired"
)

// Ticket links a requesting device (e.g. a TV with limited input) to an
// authorizing device (e.g. a phone that completes the OAuth consent) for one
// grant. The DeviceCode is a high-entropy secret known only to the
// requesting device; the UserCode is short and human-typed on the
// authorizing device.
type Ticket struct {
	DeviceCode  string        `json:"deviceCode"`
	UserCode    string        `json:"userCode"`
	DeviceType  string        `json:"deviceType"`
	DeviceName  string        `json:"deviceName,omitempty"`
	Status      Status        `json:"status"`
	BoundUserID string        `json:"boundUserId,omitempty"` // set once authorized
	Interval    time.Duration `json:"interval"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Expired reports whether the ticket's deadline has passed. The stored
// Status may lag behind the clock; callers transition lazily via the repo.
func (t *Ticket) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// userCodeAlphabet avoids characters that read ambiguously on a TV screen
// (0/O, 1/I/L, 8/B, 5/S, 2/Z).
const userCodeAlphabet = "CDFGHJKMNPQRTVWXY34679"

// NewDeviceCode returns a URL-safe random secret of byteLength bytes.
func NewDeviceCode(byteLength int) (string, error) {
	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "[NewDeviceCode] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// NewUserCode returns an 8-character code in display form "XXXX-XXXX".
func NewUserCode() (string, error) {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			sb.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(userCodeAlphabet))))
		if err != nil {
			return "", errors.Wrap(err, "[NewUserCode] rand.Int")
		}
		sb.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeUserCode canonicalizes what a human typed: uppercased, separators
// and spaces stripped.
func NormalizeUserCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}
