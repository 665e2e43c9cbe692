package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps config names onto CDP resource types.
var resourceAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockedTypes resolves configured names, accepting both aliases and raw
// CDP type names in any case.
func blockedTypes(names []string) map[proto.NetworkResourceType]bool {
	out := make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if t, ok := resourceAliases[n]; ok {
			out[t] = true
			continue
		}
		for _, t := range resourceAliases {
			if strings.EqualFold(string(t), n) {
				out[t] = true
			}
		}
	}
	return out
}

// blockResources fails page requests of the configured types. The returned
// router runs until stopped; Tab.Close stops it.
func blockResources(page *rod.Page, names []string) (*rod.HijackRouter, error) {
	blocked := blockedTypes(names)

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		_ = router.Stop()
		return nil, err
	}

	go router.Run()
	return router, nil
}
