package client

// NearBottomThreshold is how close to the bottom, in pixels, the viewport
// counts as following the conversation.
const NearBottomThreshold = 96

// IsNearBottom tells whether a scroll container is within
// NearBottomThreshold of its end.
func IsNearBottom(scrollHeight, scrollTop, clientHeight float64) bool {
	return scrollHeight-scrollTop-clientHeight < NearBottomThreshold
}

type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	// ScrollInstant jumps to the bottom without animation.
	ScrollInstant
	// ScrollSmooth animates to the bottom.
	ScrollSmooth
	// ScrollShowJump leaves the viewport alone and offers a "jump to latest"
	// affordance.
	ScrollShowJump
)

func (a ScrollAction) String() string {
	switch a {
	case ScrollInstant:
		return "instant"
	case ScrollSmooth:
		return "smooth"
	case ScrollShowJump:
		return "show-jump"
	}
	return "none"
}

// ScrollTracker decides between autoscroll and the "new messages"
// affordance as the rendered message count changes.
type ScrollTracker struct {
	prevCount  int
	farFromEnd bool
	showJump   bool
}

// OnScroll records the viewport position reported by the renderer.
func (t *ScrollTracker) OnScroll(nearBottom bool) {
	t.farFromEnd = !nearBottom
	if nearBottom {
		t.showJump = false
	}
}

// OnMessages is called with the new message count and whether the newest
// message was sent by the local user.
func (t *ScrollTracker) OnMessages(count int, newestIsMine bool) ScrollAction {
	prev := t.prevCount
	t.prevCount = count

	switch {
	case count == 0:
		t.showJump = false
		return ScrollNone
	case prev == 0:
		t.farFromEnd = false
		return ScrollInstant
	case count > prev:
		if !t.farFromEnd || newestIsMine {
			t.farFromEnd = false
			t.showJump = false
			return ScrollSmooth
		}
		t.showJump = true
		return ScrollShowJump
	}
	return ScrollNone
}

// JumpToLatest is the user accepting the affordance.
func (t *ScrollTracker) JumpToLatest() ScrollAction {
	t.showJump = false
	t.farFromEnd = false
	return ScrollSmooth
}

func (t *ScrollTracker) ShowJump() bool {
	return t.showJump
}
