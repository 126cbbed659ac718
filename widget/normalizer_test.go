package widget

import (
	"reflect"
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Comprar leite", "comprar leite"},
		{"  comprar   Leite  ", "comprar leite"},
		{"\tCOMPRAR\nLEITE", "comprar leite"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeTitle(c.in); got != c.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeRejectsUnknownType(t *testing.T) {
	if _, err := Normalize(RawExtraction{Type: "reminder", Title: "x"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := Normalize(RawExtraction{Type: "task", Title: "   "}); err == nil {
		t.Fatalf("expected error for empty title")
	}
}

func TestNormalizeTrimsAndDerives(t *testing.T) {
	e, err := Normalize(RawExtraction{
		Type:          "task",
		Title:         "  Comprar   Leite ",
		Description:   " no mercado ",
		RelatedTitles: []string{" Leite integral ", "", "  "},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.Title != "Comprar   Leite" {
		t.Errorf("title should be trimmed, got %q", e.Title)
	}
	if e.TitleNormalized != "comprar leite" {
		t.Errorf("titleNormalized = %q", e.TitleNormalized)
	}
	if e.Description != "no mercado" {
		t.Errorf("description = %q", e.Description)
	}
	if !reflect.DeepEqual(e.RelatedTitles, []string{"Leite integral"}) {
		t.Errorf("relatedTitles = %v", e.RelatedTitles)
	}
	if e.Fingerprint == "" {
		t.Errorf("fingerprint must be derived")
	}
}

func TestNormalizePrunesEmptySubObjects(t *testing.T) {
	e, err := Normalize(RawExtraction{
		Type:   "event",
		Title:  "Consulta",
		Event:  &EventData{StartsAt: "  ", Location: ""},
		Person: &PersonData{},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !e.TypedData.Empty() {
		t.Fatalf("all-empty sub-objects must normalize to absent, got %+v", e.TypedData)
	}
}

func TestNormalizeKeepsPopulatedSubObject(t *testing.T) {
	e, err := Normalize(RawExtraction{
		Type:  "water-tracker",
		Title: "Hidratação",
		Water: &WaterData{Current: 500, Target: 2000, Unit: "ml"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if e.TypedData.Water == nil || e.TypedData.Water.Target != 2000 {
		t.Fatalf("populated water payload must survive, got %+v", e.TypedData.Water)
	}
}
