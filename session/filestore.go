package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

// sessionFileName is the single well-known key the current session lives
// under inside the data folder.
const sessionFileName = "session.json"

// FileStore persists the current session as one JSON file in the data
// folder. Tokens are secrets, so the file is written 0600.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed session store under dataFolder. The
// folder is created if missing.
func NewFileStore(dataFolder string) (*FileStore, error) {
	if err := os.MkdirAll(dataFolder, 0o700); err != nil {
		return nil, errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return &FileStore{path: filepath.Join(dataFolder, sessionFileName)}, nil
}

// Save writes the session atomically (temp file + rename) so a crash cannot
// leave a half-written record behind.
func (fs *FileStore) Save(sess *Session) error {
	if err := sess.Validate(); err != nil {
		return errors.Wrap(err, "[FileStore.Save] invalid session")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileStore.Save] marshal")
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return nil
}

// Load reads the stored session. Missing, corrupt, or schema-invalid data
// returns (nil, nil), never an error that could block boot. Expired but
// otherwise valid sessions are returned as-is; the manager needs the refresh
// token and owns the expiry policy.
func (fs *FileStore) Load() (*Session, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("session store unreadable, treating as no session")
		}
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		log.Warn().Err(err).Msg("session store corrupt, treating as no session")
		return nil, nil
	}
	if err := sess.Validate(); err != nil {
		log.Warn().Err(err).Msg("stored session invalid, treating as no session")
		return nil, nil
	}
	return &sess, nil
}

// Clear removes the stored session. Clearing an empty store is not an error.
func (fs *FileStore) Clear() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(autherrors.ErrStorage, err.Error())
	}
	return nil
}

var _ Store = (*FileStore)(nil)
