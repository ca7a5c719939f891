// Package i18n translates gametl's own messages. Catalogs are embedded
// from locales/<lang>/LC_MESSAGES/gametl.po and read with gotext.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "gametl"

// catalog is nil until Init; T and N then return their input.
var catalog *gotext.Locale

// localeVars are read in gettext order.
var localeVars = []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"}

// Init loads the catalog for lang, or for the locale named by the
// environment when lang is empty. Call it once before T or N.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}
	catalog = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	catalog.AddDomain(domain)
	catalog.SetDomain(domain)
}

// T returns the translation of msgid, or msgid itself.
func T(msgid string) string {
	if catalog == nil {
		return msgid
	}
	return catalog.Get(msgid)
}

// N is T for messages with a plural form chosen by n.
func N(singular, plural string, n int) string {
	if catalog != nil {
		return catalog.GetN(singular, plural, n)
	}
	if n == 1 {
		return singular
	}
	return plural
}

// detectLanguage returns the first locale in the environment other than
// C or POSIX. Any variable may hold a colon-separated list; its entries
// are tried in turn. Falls back to "en".
func detectLanguage() string {
	for _, name := range localeVars {
		for _, entry := range strings.Split(os.Getenv(name), ":") {
			if tag := localeTag(entry); tag != "" {
				return tag
			}
		}
	}
	return "en"
}

// localeTag reduces "de_DE.UTF-8@euro" to "de_DE". C and POSIX give "".
func localeTag(s string) string {
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "C" || s == "POSIX" {
		return ""
	}
	return s
}
