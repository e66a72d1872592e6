package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// End-to-end smoke against a running campusvault-api: register two students,
// upload a resource, submit two reviews and check the stored summary matches
// the review set.
func main() {
	base := os.Getenv("CAMPUSVAULT_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}
	suffix := rand.Int63()

	owner := register(client, base, fmt.Sprintf("smoke-owner-%d@kaznu.edu", suffix))
	reviewerA := register(client, base, fmt.Sprintf("smoke-a-%d@nu.edu", suffix))
	reviewerB := register(client, base, fmt.Sprintf("smoke-b-%d@nu.edu", suffix))

	resource := struct {
		ID string `json:"id"`
	}{}
	call(client, base, http.MethodPost, "/v1/resources", owner, map[string]any{
		"title":      "Smoke Test Notes",
		"subject":    "Smoke Testing",
		"department": "Quality Engineering",
		"semester":   1,
		"file_url":   fmt.Sprintf("https://files.campusvault.org/smoke/%d.pdf", suffix),
		"file_type":  "application/pdf",
	}, http.StatusCreated, &resource)

	reviewPath := "/v1/resources/" + resource.ID + "/reviews"
	call(client, base, http.MethodPost, reviewPath, reviewerA, map[string]any{
		"rating": 5, "comment": "smoke review one",
	}, http.StatusCreated, nil)

	submitted := struct {
		Summary struct {
			AverageRating float64 `json:"average_rating"`
			TotalRatings  int     `json:"total_ratings"`
		} `json:"summary"`
	}{}
	call(client, base, http.MethodPost, reviewPath, reviewerB, map[string]any{
		"rating": 4, "comment": "smoke review two",
	}, http.StatusCreated, &submitted)

	if submitted.Summary.TotalRatings != 2 {
		log.Fatalf("summary count: got %d, want 2", submitted.Summary.TotalRatings)
	}
	if math.Abs(submitted.Summary.AverageRating-4.5) > 1e-9 {
		log.Fatalf("summary average: got %v, want 4.5", submitted.Summary.AverageRating)
	}

	dup := doRequest(client, base, http.MethodPost, reviewPath, reviewerB, map[string]any{
		"rating": 1, "comment": "duplicate",
	})
	if dup.StatusCode != http.StatusConflict {
		log.Fatalf("duplicate review: got status %d, want 409", dup.StatusCode)
	}
	dup.Body.Close()

	fmt.Printf("✅ campusvault smoke test passed: resource=%s\n", resource.ID)
}

func register(client *http.Client, base, email string) string {
	session := struct {
		Token string `json:"token"`
	}{}
	call(client, base, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"name":        "Smoke Tester",
		"email":       email,
		"password":    "smoke-password",
		"institution": "Smoke University",
	}, http.StatusCreated, &session)
	if session.Token == "" {
		log.Fatalf("register %s: empty token", email)
	}
	return session.Token
}

func call(client *http.Client, base, method, path, token string, body map[string]any, wantStatus int, out any) {
	resp := doRequest(client, base, method, path, token, body)
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: got status %d, want %d", method, path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}

func doRequest(client *http.Client, base, method, path, token string, body map[string]any) *http.Response {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			log.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, base+path, &payload)
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}
