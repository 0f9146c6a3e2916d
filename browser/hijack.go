package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// hostSet answers "is this host, or any parent domain of it, listed".
type hostSet map[string]struct{}

func newHostSet(hosts []string) hostSet {
	set := make(hostSet, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

// matches checks the host and each parent domain, so
// "www.google-analytics.com" matches a "google-analytics.com" entry.
func (s hostSet) matches(host string) bool {
	host = strings.ToLower(host)
	if _, ok := s[host]; ok {
		return true
	}
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			return false
		}
		host = host[idx+1:]
		if _, ok := s[host]; ok {
			return true
		}
	}
}

// mountBlocker installs a request interceptor that drops requests to
// tracker and analytics hosts. It never filters by resource type: the
// audits measure the rendered page, so stylesheets, fonts and images
// all have to load for real.
//
// Returns the running router so the caller can Stop() it, or nil when
// there is nothing to block.
func mountBlocker(page *rod.Page, hosts []string) *rod.HijackRouter {
	blocked := newHostSet(hosts)
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType intercepts every request; the
	// handler decides per-request.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if blocked.matches(ctx.Request.URL().Hostname()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
