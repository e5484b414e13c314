package discord

import "strings"

// votingMarkers are the reactions attached to a voting prompt, one per
// eligible entry in submission order.
var votingMarkers = [...]string{
	"🎵", "🎶", "🎤", "🎧", "🎸", "🥁", "🎺", "🎷", "🎹", "🎻",
	"🔥", "⭐", "🌟", "💫", "✨", "🎯", "🏆", "👑", "💎", "🌈",
	"🚀", "⚡", "💥", "🎨", "🌸", "🌺", "🌻", "🌹", "🌼", "🌷",
	"🎀", "🎊", "🎉", "🎈", "🎁", "💝", "💖", "💜", "💙", "💚",
	"❤️", "🧡", "💛", "🤍", "🖤", "💯", "🔮", "🌙", "☀️", "🔶",
}

// MarkerBudget is the number of distinct voting markers available.
const MarkerBudget = len(votingMarkers)

const variationSelector = "️"

// Marker returns the reaction for entry index i.
func Marker(i int) (string, bool) {
	if i < 0 || i >= len(votingMarkers) {
		return "", false
	}
	return votingMarkers[i], true
}

// MarkerIndex maps a reaction name back to its entry index. Clients are
// inconsistent about the emoji variation selector, so it is ignored.
func MarkerIndex(name string) (int, bool) {
	name = strings.TrimSuffix(name, variationSelector)
	for i, m := range votingMarkers {
		if strings.TrimSuffix(m, variationSelector) == name {
			return i, true
		}
	}
	return 0, false
}
