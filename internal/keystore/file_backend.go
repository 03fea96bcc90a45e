package keystore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

// keyEntry is the on-disk form of one stored key, hex-encoded so the
// files stay readable with standard tools during operation.
type keyEntry struct {
	PrivateKeyHex string `json:"private_key_hex"`
	PublicKeyHex  string `json:"public_key_hex"`
}

// FileBackend is a filesystem-backed Capability implementation: one JSON
// file per (keyType, name) under dir, guarded by an in-process mutex and
// a read-through cache. It is the manager's own default backend, not a
// production HSM substitute — operators who need one wire a different
// Capability implementation in its place.
type FileBackend struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*keyEntry
}

// NewFileBackend returns a backend rooted at dir, creating it if absent.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &FileBackend{dir: dir, cache: make(map[string]*keyEntry)}, nil
}

func cacheKey(keyType KeyType, name string) string { return string(keyType) + "/" + name }

func (b *FileBackend) path(keyType KeyType, name string) string {
	return filepath.Join(b.dir, string(keyType), name+".json")
}

func (b *FileBackend) Generate(keyType KeyType, name string) ([]byte, error) {
	if keyType != KeyTypeECDSA {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	defer secureZero(priv.Serialize())

	pub := priv.PubKey().SerializeCompressed()
	if err := b.store(keyType, name, priv.Serialize(), pub); err != nil {
		return nil, err
	}
	return pub, nil
}

func (b *FileBackend) Insert(keyType KeyType, name string, secret []byte) error {
	if keyType != KeyTypeECDSA {
		return fmt.Errorf("%w: %s", ErrUnsupportedKeyType, keyType)
	}
	if len(secret) != 32 {
		return fmt.Errorf("ecdsa secret must be 32 bytes, got %d", len(secret))
	}
	priv, pub := btcec.PrivKeyFromBytes(secret)
	if priv == nil {
		return fmt.Errorf("parse inserted ecdsa secret")
	}
	return b.store(keyType, name, secret, pub.SerializeCompressed())
}

func (b *FileBackend) GetSecret(keyType KeyType, name string) ([]byte, error) {
	entry, err := b.load(keyType, name)
	if err != nil {
		return nil, err
	}
	secret, err := hex.DecodeString(entry.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode stored secret: %w", err)
	}
	return secret, nil
}

func (b *FileBackend) FirstLocal(keyType KeyType) (string, []byte, error) {
	names, err := b.ListLocal(keyType)
	if err != nil {
		return "", nil, err
	}
	if len(names) == 0 {
		return "", nil, fmt.Errorf("no local %s keys", keyType)
	}
	entry, err := b.load(keyType, names[0])
	if err != nil {
		return "", nil, err
	}
	pub, err := hex.DecodeString(entry.PublicKeyHex)
	if err != nil {
		return "", nil, fmt.Errorf("decode stored public key: %w", err)
	}
	return names[0], pub, nil
}

func (b *FileBackend) ListLocal(keyType KeyType) ([]string, error) {
	typeDir := filepath.Join(b.dir, string(keyType))
	entries, err := os.ReadDir(typeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s keys: %w", keyType, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (b *FileBackend) store(keyType KeyType, name string, secret, pub []byte) error {
	entry := &keyEntry{PrivateKeyHex: hex.EncodeToString(secret), PublicKeyHex: hex.EncodeToString(pub)}

	path := b.path(keyType, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key type dir: %w", err)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal key entry: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write key entry: %w", err)
	}

	b.mu.Lock()
	b.cache[cacheKey(keyType, name)] = entry
	b.mu.Unlock()
	return nil
}

func (b *FileBackend) load(keyType KeyType, name string) (*keyEntry, error) {
	b.mu.RLock()
	if entry, ok := b.cache[cacheKey(keyType, name)]; ok {
		b.mu.RUnlock()
		return entry, nil
	}
	b.mu.RUnlock()

	raw, err := os.ReadFile(b.path(keyType, name))
	if err != nil {
		return nil, fmt.Errorf("read key %s/%s: %w", keyType, name, err)
	}
	var entry keyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal key entry: %w", err)
	}

	b.mu.Lock()
	b.cache[cacheKey(keyType, name)] = &entry
	b.mu.Unlock()
	return &entry, nil
}

// secureZero overwrites b with zeros, matching the plugin package's
// best-effort approach to clearing private key bytes from memory.
func secureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
