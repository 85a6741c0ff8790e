package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// StorageKey is the key of the cart snapshot inside the session storage.
const StorageKey = "cart"

type snapshot struct {
	SessionID string     `json:"session_id"`
	Items     []LineItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Save writes the current lines to storage.
func (c *Cart) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked(ctx)
}

func (c *Cart) persistLocked(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	data, err := json.Marshal(snapshot{SessionID: c.sessionID, Items: c.items, UpdatedAt: c.updatedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	return c.storage.Set(ctx, StorageKey, string(data))
}

// Load replaces the in-memory lines with the stored snapshot, if any. A
// corrupt snapshot is discarded.
func (c *Cart) Load(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	c.loading.Store(true)
	defer c.loading.Store(false)

	raw, ok, err := c.storage.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("failed to read cart: %w", err)
	}
	if !ok {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Printf("[Cart] Discarding corrupt snapshot for %s: %v", c.sessionID, err)
		if err := c.storage.Remove(ctx, StorageKey); err != nil {
			log.Printf("[Cart] Failed to remove corrupt snapshot for %s: %v", c.sessionID, err)
		}
		return nil
	}

	items := make([]LineItem, 0, len(snap.Items))
	for _, it := range snap.Items {
		if it.ID == "" || it.Product.ID == "" || it.Quantity <= 0 {
			continue
		}
		items = append(items, it)
	}

	c.mu.Lock()
	c.items = items
	c.updatedAt = snap.UpdatedAt
	c.mu.Unlock()
	return nil
}
