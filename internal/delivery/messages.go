package delivery

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgHTTP     = "delivery.http"
	msgNetwork  = "delivery.network"
	msgTimeout  = "delivery.timeout"
	msgRejected = "delivery.rejected"
	msgPaused   = "delivery.paused"
)

var supported = []language.Tag{
	language.English,
	language.French,
	language.Spanish,
	language.Ukrainian,
}

var (
	matcher  = language.NewMatcher(supported)
	messages = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, key, msg string) {
		_ = b.SetString(tag, key, msg)
	}

	set(language.English, msgHTTP, "The server rejected the results (HTTP %d).")
	set(language.English, msgNetwork, "The results could not be sent. Check your connection.")
	set(language.English, msgTimeout, "Sending the results timed out.")
	set(language.English, msgRejected, "The server did not accept the results: %s")
	set(language.English, msgPaused, "Sending is paused after repeated failures. Try again later.")

	set(language.French, msgHTTP, "Le serveur a refusé les résultats (HTTP %d).")
	set(language.French, msgNetwork, "Les résultats n'ont pas pu être envoyés. Vérifiez votre connexion.")
	set(language.French, msgTimeout, "L'envoi des résultats a expiré.")
	set(language.French, msgRejected, "Le serveur n'a pas accepté les résultats : %s")
	set(language.French, msgPaused, "L'envoi est suspendu après plusieurs échecs. Réessayez plus tard.")

	set(language.Spanish, msgHTTP, "El servidor rechazó los resultados (HTTP %d).")
	set(language.Spanish, msgNetwork, "No se pudieron enviar los resultados. Compruebe su conexión.")
	set(language.Spanish, msgTimeout, "El envío de los resultados agotó el tiempo de espera.")
	set(language.Spanish, msgRejected, "El servidor no aceptó los resultados: %s")
	set(language.Spanish, msgPaused, "El envío está en pausa tras varios fallos. Inténtelo más tarde.")

	set(language.Ukrainian, msgHTTP, "Сервер відхилив результати (HTTP %d).")
	set(language.Ukrainian, msgNetwork, "Не вдалося надіслати результати. Перевірте з'єднання.")
	set(language.Ukrainian, msgTimeout, "Час очікування надсилання результатів вичерпано.")
	set(language.Ukrainian, msgRejected, "Сервер не прийняв результати: %s")
	set(language.Ukrainian, msgPaused, "Надсилання призупинено після кількох невдач. Спробуйте пізніше.")

	return b
}

// printerFor returns a printer for the closest supported language to lang.
// Unknown or empty languages get English.
func printerFor(lang string) *message.Printer {
	tag := language.English
	if lang != "" {
		if t, err := language.Parse(lang); err == nil {
			_, idx, conf := matcher.Match(t)
			if conf != language.No {
				tag = supported[idx]
			}
		}
	}
	return message.NewPrinter(tag, message.Catalog(messages))
}
