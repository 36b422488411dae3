package conn

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/chipsenkbeil/distant-go/internal/proto"
	"github.com/chipsenkbeil/distant-go/internal/wire"
)

// DefaultKeychainTTL is how long a dropped connection's entry stays claimable
// by a reconnecting client.
const DefaultKeychainTTL = 10 * time.Minute

// KeychainResult distinguishes the ways a reconnect claim can resolve. The
// invalid-id and invalid-key cases are produced with the same amount of key
// comparison work so the distinction cannot be observed by timing.
type KeychainResult int

const (
	KeychainOk KeychainResult = iota
	KeychainInvalidID
	KeychainInvalidKey
)

type keychainEntry struct {
	key      []byte
	backup   <-chan *wire.Backup
	expireAt time.Time
}

// Keychain maps connection ids to the reauth key and pending backup of a
// connection that may come back. Entries expire lazily.
type Keychain struct {
	mu      sync.Mutex
	entries map[proto.ConnectionID]keychainEntry
	ttl     time.Duration
}

func NewKeychain(ttl time.Duration) *Keychain {
	if ttl <= 0 {
		ttl = DefaultKeychainTTL
	}
	return &Keychain{
		entries: make(map[proto.ConnectionID]keychainEntry),
		ttl:     ttl,
	}
}

// Insert stores the reauth key for id together with the channel that will
// deliver the connection's backup when it drops.
func (k *Keychain) Insert(id proto.ConnectionID, key []byte, backup <-chan *wire.Backup) {
	cp := make([]byte, len(key))
	copy(cp, key)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sweepLocked()
	k.entries[id] = keychainEntry{key: cp, backup: backup, expireAt: time.Now().Add(k.ttl)}
}

// RemoveIfHasKey claims the entry for id when the presented key matches. On
// success the entry is removed and its backup channel returned. The key
// comparison is constant time, and a comparison happens even when the id does
// not exist so that id existence does not leak through timing.
func (k *Keychain) RemoveIfHasKey(id proto.ConnectionID, key []byte) (<-chan *wire.Backup, KeychainResult) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sweepLocked()

	entry, exists := k.entries[id]
	stored := entry.key
	if !exists {
		stored = make([]byte, len(key))
	}
	match := subtle.ConstantTimeCompare(stored, key) == 1
	switch {
	case !exists:
		return nil, KeychainInvalidID
	case !match:
		return nil, KeychainInvalidKey
	default:
		delete(k.entries, id)
		return entry.backup, KeychainOk
	}
}

// Has reports whether an unexpired entry exists for id.
func (k *Keychain) Has(id proto.ConnectionID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sweepLocked()
	_, ok := k.entries[id]
	return ok
}

func (k *Keychain) sweepLocked() {
	now := time.Now()
	for id, entry := range k.entries {
		if now.After(entry.expireAt) {
			delete(k.entries, id)
		}
	}
}
