package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/Pairline/internal/matchmaker"
)

type roomReader interface {
	Room(ctx context.Context, roomID string) (*matchmaker.Room, error)
}

// watchRoom polls the room record and calls onClosed once when it is no
// longer active. Read errors other than a missing room are retried on the
// next tick.
func watchRoom(ctx context.Context, rooms roomReader, roomID string, interval time.Duration, onClosed func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		room, err := rooms.Room(ctx, roomID)
		switch {
		case errors.Is(err, matchmaker.ErrRoomNotFound):
		case err != nil:
			if ctx.Err() == nil {
				slog.Debug("room poll failed", "room_id", roomID, "error", err)
			}
			continue
		case room.Active:
			continue
		}

		slog.Info("room closed", "room_id", roomID)
		onClosed()
		return
	}
}
