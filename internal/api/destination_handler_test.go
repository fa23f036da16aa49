package api

import (
	"fmt"
	"net/http"
	"testing"

	"erasmusjourney/internal/database"
)

func seedBasicInfo(t *testing.T, env *testEnv, email, city, country string, rent float64) {
	t.Helper()
	user := env.fx.CreateUser(email)
	data := map[string]any{"hostCity": city, "hostCountry": country}
	if rent > 0 {
		data["monthlyRent"] = rent
	}
	env.fx.CreateSubmission(user.ID, "BASIC_INFO", "SUBMITTED", data)
}

func TestCosts_AveragesAndCaches(t *testing.T) {
	env := newTestEnv(t)
	seedBasicInfo(t, env, "a@ucy.ac.cy", "Barcelona", "Spain", 400)
	seedBasicInfo(t, env, "b@ucy.ac.cy", "Barcelona", "Spain", 500)

	w := env.do(t, http.MethodGet, "/api/destinations/costs?city=Barcelona&country=Spain", nil, "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["avgAccommodation"] != 450.0 {
		t.Fatalf("expected avgAccommodation 450, got %v", body["avgAccommodation"])
	}
	if body["sampleSize"] != 2.0 {
		t.Fatalf("expected sampleSize 2, got %v", body["sampleSize"])
	}
	if body["currency"] != "EUR" {
		t.Fatalf("unexpected currency %v", body["currency"])
	}
	if !env.mr.Exists("costs:barcelona:spain") {
		t.Fatalf("expected costs to be cached")
	}

	// A later submission is hidden until the cache entry is invalidated.
	seedBasicInfo(t, env, "c@ucy.ac.cy", "Barcelona", "Spain", 900)
	w = env.do(t, http.MethodGet, "/api/destinations/costs?city=barcelona&country=SPAIN", nil, "")
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["sampleSize"]; got != 2.0 {
		t.Fatalf("expected cached sampleSize 2, got %v", got)
	}
}

func TestCosts_RequiresCityAndCountry(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/api/destinations/costs?city=Barcelona", nil, ""), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/destinations/costs?country=Spain", nil, ""), http.StatusBadRequest)
}

func TestCosts_UnknownCityIsZeroed(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/destinations/costs?city=Atlantis&country=Nowhere", nil, "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["sampleSize"] != 0.0 || body["totalMonthly"] != 0.0 {
		t.Fatalf("expected zeroed summary, got %v", body)
	}
}

func TestGenerated_PaginatesAndMergesCurated(t *testing.T) {
	env := newTestEnv(t)
	seedBasicInfo(t, env, "1@ucy.ac.cy", "Vienna", "Austria", 0)
	seedBasicInfo(t, env, "2@ucy.ac.cy", "Berlin", "Germany", 0)
	seedBasicInfo(t, env, "3@ucy.ac.cy", "Berlin", "Germany", 0)
	seedBasicInfo(t, env, "4@ucy.ac.cy", "Athens", "Greece", 0)
	env.fx.CreateDestination("Athens", "Greece", database.DestinationPublished, true)
	env.fx.CreateDestination("Vienna", "Austria", database.DestinationDraft, false)
	env.fx.CreateDestination("Lyon", "France", database.DestinationPublished, false)

	w := env.do(t, http.MethodGet, "/api/destinations/generated?limit=2", nil, "")
	expectStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["total"] != 3.0 {
		t.Fatalf("expected 3 published destinations, got %v", body["total"])
	}
	if body["hasNext"] != true || body["hasPrev"] != false {
		t.Fatalf("unexpected paging flags %v", body)
	}
	items := body["destinations"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["city"] != "Athens" || first["featured"] != true {
		t.Fatalf("expected featured Athens first, got %v", first)
	}
	if first["imageUrl"] != "/images/default.jpg" {
		t.Fatalf("expected default image, got %v", first["imageUrl"])
	}
	if items[1].(map[string]any)["city"] != "Berlin" {
		t.Fatalf("expected Berlin second, got %v", items[1])
	}

	w = env.do(t, http.MethodGet, "/api/destinations/generated?limit=2&page=2", nil, "")
	expectStatus(t, w, http.StatusOK)
	body = decodeBody(t, w)
	items = body["destinations"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["city"] != "Lyon" {
		t.Fatalf("expected curated Lyon on page 2, got %v", items)
	}
	if body["hasPrev"] != true || body["hasNext"] != false {
		t.Fatalf("unexpected paging flags %v", body)
	}

	w = env.do(t, http.MethodGet, "/api/destinations/generated?status=draft", nil, "")
	expectStatus(t, w, http.StatusOK)
	items = decodeBody(t, w)["destinations"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["city"] != "Vienna" {
		t.Fatalf("expected only draft Vienna, got %v", items)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/destinations/generated?status=archived", nil, ""), http.StatusBadRequest)
}

func TestDetail_PublishedOnlyWithPresignedImage(t *testing.T) {
	env := newTestEnv(t)
	published := env.fx.CreateDestination("Madrid", "Spain", database.DestinationPublished, false)
	draft := env.fx.CreateDestination("Bilbao", "Spain", database.DestinationDraft, false)
	if err := env.db.Model(&published).Update("image_key", "destination-images/1/cover.png").Error; err != nil {
		t.Fatalf("set image key: %v", err)
	}

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/destinations/%d", published.ID), nil, "")
	expectStatus(t, w, http.StatusOK)
	dest := decodeBody(t, w)["destination"].(map[string]any)
	if dest["imageUrl"] != "https://media.example.invalid/destination-images/1/cover.png" {
		t.Fatalf("expected presigned image URL, got %v", dest["imageUrl"])
	}

	expectStatus(t, env.do(t, http.MethodGet, fmt.Sprintf("/api/destinations/%d", draft.ID), nil, ""), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/api/destinations/999", nil, ""), http.StatusNotFound)
}

func TestPopular_LimitsResults(t *testing.T) {
	env := newTestEnv(t)
	seedBasicInfo(t, env, "p1@ucy.ac.cy", "Riga", "Latvia", 0)
	seedBasicInfo(t, env, "p2@ucy.ac.cy", "Riga", "Latvia", 0)
	seedBasicInfo(t, env, "p3@ucy.ac.cy", "Tallinn", "Estonia", 0)

	w := env.do(t, http.MethodGet, "/api/destinations/popular?limit=1", nil, "")
	expectStatus(t, w, http.StatusOK)
	items := decodeBody(t, w)["destinations"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["city"] != "Riga" {
		t.Fatalf("expected Riga only, got %v", items)
	}
}
