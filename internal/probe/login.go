package probe

import (
	"regexp"
	"strings"
)

// Input carries the three strings the login heuristics inspect, plus an
// optional per-target hint naming the expected product.
type Input struct {
	FinalURL    string
	HeaderBlob  string
	BodySnippet string
	// Hint, when it names a catalogue rule, promotes that rule to the front
	// of the evaluation order.
	Hint string
}

// rule is one product classifier. Match returns the detected login type, or
// "" for no match.
type rule struct {
	name  string
	match func(in *loweredInput) string
}

// loweredInput caches case-folded copies so each rule matches cheaply.
type loweredInput struct {
	url    string
	header string
	body   string
}

// catalogue is the ordered product catalogue. Evaluation order is part of
// the contract: first match wins, and the generic password/login fallbacks
// run only after every product rule has declined.
//
//  1. OWA
//  2. RocketChat
//  3. ERPNext
//  4. Nextcloud
//  5. ProxmoxPMG / ProxmoxPBS / ProxmoxPVE
//  6. Zabbix
//  7. OPNsense
//  8. CipherMail
//  9. PasswordForm / LoginPage (generic)
var catalogue = []rule{
	{name: "OWA", match: matchOWA},
	{name: "RocketChat", match: matchRocketChat},
	{name: "ERPNext", match: matchERPNext},
	{name: "Nextcloud", match: matchNextcloud},
	{name: "Proxmox", match: matchProxmox},
	{name: "Zabbix", match: matchZabbix},
	{name: "OPNsense", match: matchOPNsense},
	{name: "CipherMail", match: matchCipherMail},
	{name: "Generic", match: matchGeneric},
}

// Classify runs the catalogue over the probe's final URL, header blob and
// body snippet. It is deterministic: the same input always yields the same
// (detected, loginType) pair.
func Classify(in Input) (bool, string) {
	low := &loweredInput{
		url:    strings.ToLower(in.FinalURL),
		header: strings.ToLower(in.HeaderBlob),
		body:   strings.ToLower(in.BodySnippet),
	}

	rules := catalogue
	if in.Hint != "" {
		hint := strings.ToLower(in.Hint)
		for i, r := range catalogue {
			if strings.ToLower(r.name) == hint || strings.HasPrefix(hint, strings.ToLower(r.name)) {
				reordered := make([]rule, 0, len(catalogue))
				reordered = append(reordered, catalogue[i])
				reordered = append(reordered, catalogue[:i]...)
				reordered = append(reordered, catalogue[i+1:]...)
				rules = reordered
				break
			}
		}
	}

	for _, r := range rules {
		if t := r.match(low); t != "" {
			return true, t
		}
	}
	return false, ""
}

var owaBodyPattern = regexp.MustCompile(`outlook web app|outlook|owa/auth`)

func matchOWA(in *loweredInput) string {
	if strings.Contains(in.url, "/owa/") || strings.Contains(in.url, "errorfe.aspx") {
		return "OWA"
	}
	if owaBodyPattern.MatchString(in.body) {
		return "OWA"
	}
	return ""
}

func matchRocketChat(in *loweredInput) string {
	urlHint := strings.Contains(in.url, "/home") || strings.Contains(in.url, "/login")

	// These two signals are unambiguous on their own.
	if strings.Contains(in.body, "rocket.chat") || strings.Contains(in.body, "__meteor_runtime_config__") {
		return "RocketChat"
	}
	// The weaker meteor/rc-root signals need a URL hint to avoid matching
	// unrelated Meteor applications.
	weak := strings.Contains(in.body, "meteor") ||
		strings.Contains(in.body, "rc-root") ||
		strings.Contains(in.body, "rocketchat")
	if weak && urlHint {
		return "RocketChat"
	}
	return ""
}

var frappeContentPattern = regexp.MustCompile(`erpnext|frappe\.boot|frappe\.csrf_token|/api/method/frappe\.|frappe`)

func matchERPNext(in *loweredInput) string {
	if !frappeContentPattern.MatchString(in.body) {
		return ""
	}
	urlHint := strings.Contains(in.url, "/login") || strings.Contains(in.url, "/desk")
	headerHint := strings.Contains(in.header, "x-frappe-") || strings.Contains(in.header, "sid=")
	if urlHint || headerHint {
		return "ERPNext"
	}
	return ""
}

func matchNextcloud(in *loweredInput) string {
	if strings.Contains(in.body, "nextcloud") ||
		strings.Contains(in.body, "body-login") ||
		strings.Contains(in.body, "nc-login") {
		return "Nextcloud"
	}
	return ""
}

// matchProxmox distinguishes the three Proxmox products. A URL hint (path or
// the stock 8006/8007 ports) must pair with a product string in the body.
func matchProxmox(in *loweredInput) string {
	pmgURL := strings.Contains(in.url, "/pmg") || strings.Contains(in.url, ":8006")
	pbsURL := strings.Contains(in.url, "/pbs") || strings.Contains(in.url, ":8007")
	pveURL := strings.Contains(in.url, "/pve2/") || strings.Contains(in.url, ":8006")

	if pmgURL && strings.Contains(in.body, "proxmox mail gateway") {
		return "ProxmoxPMG"
	}
	if pbsURL && strings.Contains(in.body, "proxmox backup server") {
		return "ProxmoxPBS"
	}
	if pveURL && (strings.Contains(in.body, "proxmox virtual environment") || strings.Contains(in.body, "proxmox ve")) {
		return "ProxmoxPVE"
	}
	return ""
}

func matchZabbix(in *loweredInput) string {
	if strings.Contains(in.body, "zabbix") && hasPasswordInput(in.body) {
		return "Zabbix"
	}
	return ""
}

func matchOPNsense(in *loweredInput) string {
	if strings.Contains(in.body, "opnsense") && hasPasswordInput(in.body) {
		return "OPNsense"
	}
	return ""
}

func matchCipherMail(in *loweredInput) string {
	if (strings.Contains(in.body, "ciphermail") || strings.Contains(in.body, "djigzo")) && hasPasswordInput(in.body) {
		return "CipherMail"
	}
	return ""
}

// matchGeneric is the catch-all: a password input marks a PasswordForm; the
// word "login" near form/username/email/sign-in markers marks a LoginPage.
func matchGeneric(in *loweredInput) string {
	if hasPasswordInput(in.body) {
		return "PasswordForm"
	}
	if strings.Contains(in.body, "login") {
		for _, marker := range []string{"<form", "username", "email", "sign in"} {
			if strings.Contains(in.body, marker) {
				return "LoginPage"
			}
		}
	}
	return ""
}

func hasPasswordInput(body string) bool {
	return strings.Contains(body, `type="password"`) || strings.Contains(body, `type='password'`)
}
