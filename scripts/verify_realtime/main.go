// Smoke check for a running stack: logs in, pulls public history, reads
// bulk presence for the logged-in user.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type loginResponse struct {
	Token string `json:"token"`
}

func main() {
	apiAddr := "http://localhost:8081"

	reqBody, _ := json.Marshal(map[string]string{"id": "smoke_user", "name": "Smoke User"})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", lr.Token[:10])

	get := func(path string) {
		req, _ := http.NewRequest(http.MethodGet, apiAddr+path, nil)
		req.Header.Add("Authorization", "Bearer "+lr.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatalf("GET %s failed: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		log.Printf("GET %s (%d): %s", path, resp.StatusCode, string(body))
	}

	get("/history?limit=5")
	get("/presence/bulk?ids=smoke_user")
}
