package symbols

import (
	"strings"

	"price-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Symbol Translation
//
// Callers identify instruments broker-style: ticker plus an optional
// space-separated exchange suffix ("AAPL US", "SHEL LN", "BRK/B US").
// The streaming provider wants "TICKER" for US venues and "TICKER:VENUE"
// elsewhere. Venues the provider does not carry are routed to the REST
// polling path instead.
// -----------------------------------------------------------------------------

// Resolved is the translation result for one identifier.
// Provider is empty when Polling is true.
type Resolved struct {
	Original string // cleaned caller-facing identifier, cache correlation key
	Provider string // streaming-provider symbol
	Polling  bool   // route via the polling source instead of the stream
}

// -----------------------------------------------------------------------------
// Static tables, checked in fixed priority order:
// 1. exceptions (exact match wins), 2. suffix table, 3. bare-ticker fallback.
// -----------------------------------------------------------------------------

// exceptionSymbols lists tickers whose provider symbol does not follow the
// suffix rules at all.
var exceptionSymbols = map[string]string{
	"NESN SW":   "NSRGY",      // Nestle trades via the US ADR line
	"7203 JT":   "TM",         // Toyota numeric code, ADR on the stream
	"005930 KS": "SSNLF",      // Samsung Electronics ADR
	"RDSA NA":   "SHEL:XAMS",  // legacy Shell line kept for old watchlists
}

// exchangeCodes maps a broker exchange suffix to the provider venue
// annotation. An empty value means the provider default (US composite)
// covers the venue and the bare ticker is used.
var exchangeCodes = map[string]string{
	"US": "",
	"UQ": "", // NASDAQ
	"UN": "", // NYSE
	"GY": ":XETR",
	"GR": ":XETR",
	"FP": ":XPAR",
	"NA": ":XAMS",
	"BB": ":XBRU",
	"SM": ":XMAD",
	"IM": ":XMIL",
	"SW": ":XSWX",
	"SS": ":XSTO",
	"DC": ":XCSE",
	"CN": ":XTSE",
	"JT": ":XTKS",
	"HK": ":XHKG",
	"AU": ":XASX",
}

// pollingOnly holds the suffixes the streaming provider does not carry.
var pollingOnly = map[string]struct{}{
	"LN": {}, // London
	"ID": {}, // Dublin
	"PL": {}, // London IOB lines
}

// -----------------------------------------------------------------------------

// Translator resolves caller identifiers to provider symbols. It is
// stateless apart from its logger; Resolve is a pure function of its input.
type Translator struct {
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewTranslator(log *logger.Logger) *Translator {
	return &Translator{Logger: log}
}

// -----------------------------------------------------------------------------

// Clean normalizes a raw identifier: trim, uppercase, and share-class
// slash to period ("BRK/B" -> "BRK.B").
func Clean(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.ReplaceAll(s, "/", ".")
}

// -----------------------------------------------------------------------------

// Resolve maps a raw identifier to its streaming symbol or flags it for the
// polling path.
func (t *Translator) Resolve(raw string) Resolved {
	cleaned := Clean(raw)

	// 1. Exact-match exceptions win immediately
	if provider, ok := exceptionSymbols[cleaned]; ok {
		return Resolved{Original: cleaned, Provider: provider}
	}

	parts := strings.Fields(cleaned)

	// 2. Exactly one suffix token: resolve through the exchange table
	if len(parts) == 2 {
		ticker, suffix := parts[0], parts[1]

		if _, ok := pollingOnly[suffix]; ok {
			return Resolved{Original: cleaned, Polling: true}
		}

		if venue, ok := exchangeCodes[suffix]; ok {
			return Resolved{Original: cleaned, Provider: ticker + venue}
		}

		// Unrecognized suffix: fall back to the bare ticker
		if t.Logger != nil {
			t.Logger.Warning("Unknown exchange suffix '%s' for '%s', using bare ticker", suffix, cleaned)
		}
		return Resolved{Original: cleaned, Provider: ticker}
	}

	// 3. No suffix (or an unexpected shape): use the cleaned identifier as-is
	return Resolved{Original: cleaned, Provider: strings.Join(parts, " ")}
}

// -----------------------------------------------------------------------------

// ResolveAll resolves a batch and splits it by route.
func (t *Translator) ResolveAll(raws []string) (streaming []Resolved, polling []Resolved) {
	for _, raw := range raws {
		r := t.Resolve(raw)
		if r.Polling {
			polling = append(polling, r)
		} else {
			streaming = append(streaming, r)
		}
	}
	return streaming, polling
}
