package i18n

import (
	"reflect"
	"testing"
)

func TestCataloguesComplete(t *testing.T) {
	for name, catalogue := range map[string]Messages{"en": messagesEN, "zh": messagesZH} {
		v := reflect.ValueOf(catalogue)
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).String() == "" {
				t.Errorf("%s: %s is empty", name, v.Type().Field(i).Name)
			}
		}
	}
}

func TestSetLanguage(t *testing.T) {
	defer SetLanguage(LangEN)

	SetLanguage(LangZH)
	if GetLanguage() != LangZH || M().ShuttingDown != messagesZH.ShuttingDown {
		t.Fatalf("expected zh catalogue")
	}
	SetLanguage("fr")
	if M().ShuttingDown != messagesEN.ShuttingDown {
		t.Fatalf("unknown language should fall back to en")
	}
	if Get("ServerListening") != messagesEN.ServerListening || Get("Nope") != "Nope" {
		t.Fatalf("Get lookup mismatch")
	}
}
