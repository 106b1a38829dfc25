package feedserver

import "unicode/utf8"

// PostFrame is the wire form of a post.
type PostFrame struct {
	HTML string `json:"html"`
}

// ErrorFrame is the wire form of an in-band feed error.
type ErrorFrame struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// PublishRequest is the body of POST /api/feed/{address}/posts.
type PublishRequest struct {
	HTML string `json:"html"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Feeds       map[string]int `json:"feeds"`
	Subscribers int            `json:"subscribers"`
	RSSBytes    uint64         `json:"rssBytes"`
	CPUPercent  float64        `json:"cpuPercent"`
	Uptime      string         `json:"uptime"`
}

const msgFeedNotFound = "feed not found"

// truncateHTML cuts s to at most max bytes without splitting a rune.
// max <= 0 disables the limit.
func truncateHTML(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
