package browser

import (
	"fmt"

	"github.com/use-agent/a11yscan/config"
)

// navigatorPlatform maps a client-hint platform name onto the value
// navigator.platform reports for that OS.
func navigatorPlatform(platform string) string {
	switch platform {
	case "Windows":
		return "Win32"
	case "macOS":
		return "MacIntel"
	case "Linux":
		return "Linux x86_64"
	case "Android":
		return "Linux armv8l"
	default:
		return "Win32"
	}
}

// extraStealthJS builds the supplemental override script for a profile.
// It covers vectors the bundled stealth script leaves open and keeps
// navigator.platform aligned with the Sec-Ch-Ua-Platform header.
func extraStealthJS(p config.AgentProfile) string {
	return fmt.Sprintf(extraStealthTemplate, fmt.Sprintf("%q", navigatorPlatform(p.Platform)))
}

// extraStealthTemplate runs on every new document before page scripts.
// Hardware values are pinned to a common desktop so repeated sessions do
// not disagree with each other. Every block is guarded: a property that
// cannot be patched must not break the rest.
const extraStealthTemplate = `(() => {
	'use strict';
	if (window.__identityApplied) return;
	window.__identityApplied = true;
	try {
		Object.defineProperty(navigator, 'platform', {
			get: () => %s,
			configurable: true
		});
	} catch (e) {}
	try {
		Object.defineProperty(navigator, 'hardwareConcurrency', {
			get: () => 8,
			configurable: true
		});
		Object.defineProperty(navigator, 'deviceMemory', {
			get: () => 8,
			configurable: true
		});
	} catch (e) {}
	try {
		if (navigator.connection) {
			Object.defineProperty(navigator, 'connection', {
				get: () => ({
					effectiveType: '4g',
					rtt: 50,
					downlink: 10,
					saveData: false,
					onchange: null
				}),
				configurable: true
			});
		}
	} catch (e) {}
	try {
		// Headless reports 'denied', a fresh real browser 'default'.
		if (typeof Notification !== 'undefined') {
			Object.defineProperty(Notification, 'permission', {
				get: () => 'default',
				configurable: true
			});
		}
	} catch (e) {}
	try {
		if (window.chrome && !window.chrome.csi) {
			window.chrome.csi = function() { return {}; };
		}
		if (window.chrome && !window.chrome.loadTimes) {
			window.chrome.loadTimes = function() {
				const t = Date.now() / 1000;
				return {
					requestTime: t,
					startLoadTime: t,
					commitLoadTime: t,
					finishDocumentLoadTime: t,
					finishLoadTime: t,
					firstPaintTime: t,
					firstPaintAfterLoadTime: 0,
					navigationType: 'navigate',
					wasFetchedViaSpdy: false,
					wasNpnNegotiated: true,
					npnNegotiatedProtocol: 'h2',
					wasAlternateProtocolAvailable: false,
					connectionInfo: 'h2'
				};
			};
		}
	} catch (e) {}
})();`
