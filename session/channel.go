package session

import "github.com/wintlu/stereo-play/model"

// AssignChannel implements the §4.5 channel assignment policy: give
// the new client whichever of {left, right} is currently less
// populated among the session's existing clients, breaking ties
// toward left. Because that rule is applied to an empty roster too
// (0 == 0, tie -> left) it naturally produces "first gets left, second
// gets right" without a special case. Stereo is never assigned by this
// policy; it is reserved for manual placement.
func AssignChannel(existing []model.Channel) model.Channel {
	var left, right int
	for _, c := range existing {
		switch c {
		case model.ChannelLeft:
			left++
		case model.ChannelRight:
			right++
		}
	}
	if left <= right {
		return model.ChannelLeft
	}
	return model.ChannelRight
}
