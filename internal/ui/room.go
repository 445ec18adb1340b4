package ui

import (
	"fmt"

	"github.com/BioHazard786/Pairline/internal/matchmaker"
)

// RoomView renders the "matched" box shown before the call starts.
func RoomView(room *matchmaker.Room, self string) string {
	_, peerName := room.Peer(self)
	if peerName == "" {
		peerName = "anonymous"
	}

	content := fmt.Sprintf("%s Match found!\n\n%s Room:  %s\n%s Peer:  %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(room.ID),
		IconPeer, BoldStyle.Render(peerName),
	)
	return SuccessBoxStyle.Render(content)
}

func RenderRoom(room *matchmaker.Room, self string) {
	fmt.Println(RoomView(room, self))
}
