package staging

import "github.com/mssola/useragent"

// enrichment derives secondary attributes from the free-text agent string.
// Failures here are non-fatal: an unclassifiable agent just leaves the
// derived fields empty.
type enrichment struct {
	DeviceClass string
	AgentFamily string
}

func enrichAgent(agentString string) enrichment {
	if agentString == "" {
		return enrichment{}
	}
	ua := useragent.New(agentString)

	var class string
	switch {
	case ua.Bot():
		class = "bot"
	case ua.Mobile():
		class = "mobile"
	default:
		class = "desktop"
	}

	family, _ := ua.Browser()
	return enrichment{DeviceClass: class, AgentFamily: family}
}
