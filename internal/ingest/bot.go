package ingest

import "regexp"

// botPattern recognizes crawlers, scripted clients and headless
// browsers. The list is product policy, not protocol: client
// instrumentation cannot tell bot traffic apart, so matches are
// acknowledged as successful and silently dropped server-side.
var botPattern = regexp.MustCompile(`(?i)(bot\b|bot/|robot|crawl|spider|slurp|headless|phantomjs|puppeteer|playwright|selenium|lighthouse|pingdom|uptime|facebookexternalhit|curl/|wget/|python-requests|python-urllib|go-http-client|okhttp|scrapy)`)

// IsBot reports whether a user-agent belongs to known bot traffic.
// An empty user-agent is treated as human; real browsers always send
// one, but so do plenty of thin mobile webviews worth counting.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return botPattern.MatchString(userAgent)
}
