package db

import (
	"context"
	"database/sql"
	"fmt"
)

// watermarkKey is the kv key holding the CreatedOn string of the newest
// message a completed backfill delivered for a room.
func watermarkKey(roomID string) string { return fmt.Sprintf("last-room-%s", roomID) }

// WatermarkStore persists per-room backfill watermarks in the kv table. It
// satisfies the chat package's WatermarkStore interface.
type WatermarkStore struct {
	DB *sql.DB
}

// Get returns the stored watermark for roomID, or the empty string when the
// room has never completed a backfill.
func (w *WatermarkStore) Get(ctx context.Context, roomID string) (string, error) {
	return GetKV(ctx, w.DB, watermarkKey(roomID))
}

// Set records createdOn as the new watermark for roomID.
func (w *WatermarkStore) Set(ctx context.Context, roomID, createdOn string) error {
	return SetKV(ctx, w.DB, watermarkKey(roomID), createdOn)
}
