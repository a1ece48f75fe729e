package status

import (
	"fmt"
	"strings"
)

// Catalog holds the display strings for one locale. Format strings take the
// printer serial, raw status, or printer name.
type Catalog struct {
	NoData                string
	NoDataDetail          string
	NoDataForSerial       string
	NoDataForSerialDetail string
	Idle                  string
	IdleDetail            string
	Printing              string
	Paused                string
	Success               string
	Failed                string
	Unknown               string
	OtherStatus           string
	PrinterDetail         string
}

// DefaultLocale is used for unknown or empty locales.
const DefaultLocale = "en"

var catalogs = map[string]Catalog{
	"en": {
		NoData:                "No print data available from Bambu Cloud.",
		NoDataDetail:          "No active print jobs found.",
		NoDataForSerial:       "No print data for printer %s.",
		NoDataForSerialDetail: "Printer %s not found or has no active jobs.",
		Idle:                  "Printers idle or no recent jobs.",
		IdleDetail:            "No active print jobs on the configured printers.",
		Printing:              "Printing",
		Paused:                "Paused",
		Success:               "Finished successfully",
		Failed:                "Failed",
		Unknown:               "Status unknown",
		OtherStatus:           "Status: %s",
		PrinterDetail:         "Printer: %s",
	},
	"de": {
		NoData:                "Keine Druckdaten verfügbar",
		NoDataDetail:          "Keine aktiven Druckjobs gefunden.",
		NoDataForSerial:       "Keine Daten für Drucker %s",
		NoDataForSerialDetail: "Drucker %s nicht gefunden oder keine aktiven Jobs.",
		Idle:                  "Alle konfigurierten Drucker sind bereit",
		IdleDetail:            "Keine aktiven Druckjobs auf den konfigurierten Druckern.",
		Printing:              "Druckt",
		Paused:                "Pausiert",
		Success:               "Erfolgreich abgeschlossen",
		Failed:                "Fehlgeschlagen",
		Unknown:               "Status unbekannt",
		OtherStatus:           "Status: %s",
		PrinterDetail:         "Drucker: %s",
	},
}

// CatalogFor returns the catalog for locale ("de", "de-DE", "en_US", ...),
// falling back to English.
func CatalogFor(locale string) Catalog {
	if c, ok := catalogs[baseLanguage(locale)]; ok {
		return c
	}
	return catalogs[DefaultLocale]
}

// SupportedLocale reports whether a catalog exists for locale.
func SupportedLocale(locale string) bool {
	_, ok := catalogs[baseLanguage(locale)]
	return ok
}

func baseLanguage(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	return locale
}

func (c Catalog) forCode(code StatusCode, raw string) string {
	switch code {
	case Printing:
		return c.Printing
	case Paused:
		return c.Paused
	case Success:
		return c.Success
	case Failed:
		return c.Failed
	case Unknown:
		return c.Unknown
	default:
		return fmt.Sprintf(c.OtherStatus, raw)
	}
}
