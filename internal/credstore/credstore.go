// Package credstore implements the Credential Store (C8): a durable
// key-value mapping of hashed bearer tokens to service_id, backed by an
// embedded ordered KV engine. badger/v4 has no native column families, so
// the four logical tables (`seq`, `tkns_opts`, `usr_tkns`, `svs_usr_keys`)
// are emulated with key prefixes over one database.
package credstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

const (
	prefixSeq         = "seq:"
	prefixTokenOpts   = "tkns_opts:"
	prefixUserTokens  = "usr_tkns:"
	prefixServiceKeys = "svs_usr_keys:"

	seqKeyTokenID = prefixSeq + "token_id"

	maxTxnRetries = 5
)

// TokenOpts is the metadata stored per token-id, independent of the
// hashed lookup key.
type TokenOpts struct {
	ServiceID   blueprint.ServiceID `json:"service_id"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	HashedToken string              `json:"hashed_token"`
}

// LookupResult is what a successful Lookup returns.
type LookupResult struct {
	TokenID   uint64
	ServiceID blueprint.ServiceID
	ExpiresAt *time.Time
}

// Store is the badger-backed Credential Store.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database at dir. No merge
// operator is registered: Save advances the seq counter by reading and
// rewriting it inside its own transaction.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apierrors.New(apierrors.CredentialInvalid, "open credential store").WithCause(err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save allocates a new token-id, writes its opts, indexes the hashed
// token for lookup, and appends it to the issuing service's id set — all
// inside one optimistic transaction, retried up to maxTxnRetries times on
// conflict.
func (s *Store) Save(hashedToken string, opts TokenOpts) (uint64, error) {
	var id uint64
	opts.HashedToken = hashedToken
	err := s.retry(func(txn *badger.Txn) error {
		var err error
		id, err = nextSeq(txn)
		if err != nil {
			return err
		}

		optsBytes, err := json.Marshal(opts)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(tokenOptsKey(id)), optsBytes); err != nil {
			return err
		}
		if err := txn.Set([]byte(userTokenKey(hashedToken)), idBytes(id)); err != nil {
			return err
		}
		return addServiceKey(txn, opts.ServiceID, id)
	})
	return id, err
}

// Lookup resolves a hashed token to its id/service_id/expiry. Returns
// ErrCredentialInvalid if absent or past expiry.
func (s *Store) Lookup(hashedToken string) (LookupResult, error) {
	var result LookupResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userTokenKey(hashedToken)))
		if err != nil {
			return apierrors.ErrCredentialInvalid
		}
		var id uint64
		if err := item.Value(func(v []byte) error {
			id = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return err
		}

		optsItem, err := txn.Get([]byte(tokenOptsKey(id)))
		if err != nil {
			return apierrors.ErrCredentialInvalid
		}
		var opts TokenOpts
		if err := optsItem.Value(func(v []byte) error {
			return json.Unmarshal(v, &opts)
		}); err != nil {
			return err
		}

		if opts.ExpiresAt != nil && time.Now().After(*opts.ExpiresAt) {
			return apierrors.ErrCredentialInvalid
		}

		result = LookupResult{TokenID: id, ServiceID: opts.ServiceID, ExpiresAt: opts.ExpiresAt}
		return nil
	})
	return result, err
}

// LookupByID resolves a token-id directly to its opts, including the
// digest it was saved under. Used by the legacy `id|token` scheme, where
// the id is embedded in the plaintext and the caller must separately
// verify the supplied token hashes to HashedToken before trusting it.
func (s *Store) LookupByID(id uint64) (LookupResult, string, error) {
	var result LookupResult
	var hashedToken string
	err := s.db.View(func(txn *badger.Txn) error {
		optsItem, err := txn.Get([]byte(tokenOptsKey(id)))
		if err != nil {
			return apierrors.ErrCredentialInvalid
		}
		var opts TokenOpts
		if err := optsItem.Value(func(v []byte) error {
			return json.Unmarshal(v, &opts)
		}); err != nil {
			return err
		}
		if opts.ExpiresAt != nil && time.Now().After(*opts.ExpiresAt) {
			return apierrors.ErrCredentialInvalid
		}
		hashedToken = opts.HashedToken
		result = LookupResult{TokenID: id, ServiceID: opts.ServiceID, ExpiresAt: opts.ExpiresAt}
		return nil
	})
	return result, hashedToken, err
}

// RevokeService deletes every token-id issued to sid, cascading across
// all three non-seq tables. Matches reconcile.CredentialRevoker.
func (s *Store) RevokeService(ctx context.Context, sid blueprint.ServiceID) error {
	return s.retry(func(txn *badger.Txn) error {
		ids, err := serviceKeyIDs(txn, sid)
		if err != nil {
			return err
		}
		for _, id := range ids {
			hashed, err := hashedTokenForID(txn, id)
			if err == nil && hashed != "" {
				txn.Delete([]byte(userTokenKey(hashed)))
			}
			txn.Delete([]byte(tokenOptsKey(id)))
			if err := txn.Delete([]byte(serviceKeyKey(sid, id))); err != nil {
				return err
			}
		}
		return nil
	})
}

// GC sweeps every token-opts entry past its expiry and removes it along
// with its reverse index entries. Meant to be called periodically.
func (s *Store) GC() (removed int, err error) {
	err = s.retry(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		now := time.Now()
		var expiredIDs []uint64
		prefix := []byte(prefixTokenOpts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var opts TokenOpts
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &opts) }); err != nil {
				continue
			}
			if opts.ExpiresAt == nil || !now.After(*opts.ExpiresAt) {
				continue
			}
			id, err := parseTokenOptsKey(string(item.Key()))
			if err == nil {
				expiredIDs = append(expiredIDs, id)
			}
		}

		for _, id := range expiredIDs {
			hashed, lookupErr := hashedTokenForID(txn, id)
			if lookupErr == nil && hashed != "" {
				txn.Delete([]byte(userTokenKey(hashed)))
			}
			txn.Delete([]byte(tokenOptsKey(id)))
		}
		removed = len(expiredIDs)
		return nil
	})
	return removed, err
}

func (s *Store) retry(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return err
}

func nextSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(seqKeyTokenID))
	var current uint64
	if err == nil {
		if err := item.Value(func(v []byte) error {
			current = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return 0, err
		}
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}
	next := current + 1
	if err := txn.Set([]byte(seqKeyTokenID), idBytes(next)); err != nil {
		return 0, err
	}
	return next, nil
}

func addServiceKey(txn *badger.Txn, sid blueprint.ServiceID, id uint64) error {
	return txn.Set([]byte(serviceKeyKey(sid, id)), nil)
}

func serviceKeyIDs(txn *badger.Txn, sid blueprint.ServiceID) ([]uint64, error) {
	prefix := []byte(fmt.Sprintf("%s%d:", prefixServiceKeys, sid))
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var ids []uint64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		var readSid blueprint.ServiceID
		var id uint64
		if _, err := fmt.Sscanf(key, prefixServiceKeys+"%d:%d", &readSid, &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func hashedTokenForID(txn *badger.Txn, id uint64) (string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(prefixUserTokens)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var match string
		err := item.Value(func(v []byte) error {
			if binary.BigEndian.Uint64(v) == id {
				match = string(item.Key())[len(prefixUserTokens):]
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		if match != "" {
			return match, nil
		}
	}
	return "", nil
}

func tokenOptsKey(id uint64) string          { return fmt.Sprintf("%s%020d", prefixTokenOpts, id) }
func userTokenKey(hashedToken string) string { return prefixUserTokens + hashedToken }
func serviceKeyKey(sid blueprint.ServiceID, id uint64) string {
	return fmt.Sprintf("%s%d:%d", prefixServiceKeys, sid, id)
}

func parseTokenOptsKey(key string) (uint64, error) {
	var id uint64
	_, err := fmt.Sscanf(key, prefixTokenOpts+"%d", &id)
	return id, err
}

func idBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
