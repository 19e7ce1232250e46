package session

// Store is the durable mirror of the current session (the token store).
// Pure data access, no policy: expiry decisions belong to the session
// manager.
//
// Load returns (nil, nil) when nothing usable is stored: missing file,
// corrupt data, schema-invalid record. Storage failures must never be fatal
// to app boot; implementations log and degrade to "no session."
type Store interface {
	Save(sess *Session) error
	Load() (*Session, error)
	Clear() error
}
