package chrome

import (
	"errors"
	"strings"

	"github.com/chromedp/chromedp"
)

// sessionGoneMarkers are substrings of errors raised once the browser
// process or its websocket has gone away.
var sessionGoneMarkers = []string{
	"target closed",
	"websocket: close",
	"use of closed network connection",
	"connection reset by peer",
	"broken pipe",
	"browser has disconnected",
}

// IsSessionInterrupted reports whether err means the browser itself is gone,
// as opposed to a page that merely failed or timed out.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sessionGoneMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
