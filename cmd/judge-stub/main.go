// Command judge-stub is a tiny OpenAI-compatible endpoint for local
// development. It answers the model preflight and returns a canned
// adjudication verdict derived from keywords in the submitted content,
// so the judge path can be exercised without a real model.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type verdict struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

func verdictFor(user string) verdict {
	lower := strings.ToLower(user)
	switch {
	case strings.Contains(lower, "ignore previous instructions"),
		strings.Contains(lower, "ignore all previous"),
		strings.Contains(lower, "system prompt"),
		strings.Contains(lower, "exfiltrate"):
		return verdict{
			Label:      "malicious",
			Confidence: 0.95,
			Reasons:    []string{"content attempts to override assistant instructions"},
		}
	case strings.Contains(lower, "you are now"),
		strings.Contains(lower, "new instructions"):
		return verdict{
			Label:      "suspicious",
			Confidence: 0.7,
			Reasons:    []string{"content addresses the assistant directly"},
		}
	default:
		return verdict{
			Label:      "benign",
			Confidence: 0.9,
			Reasons:    []string{"no manipulation attempt found"},
		}
	}
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "test-model"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		user := ""
		for _, m := range req.Messages {
			if m.Role == "user" {
				user = m.Content
			}
		}
		if strings.TrimSpace(user) == "" {
			http.Error(w, "no user message", http.StatusBadRequest)
			return
		}
		b, _ := json.Marshal(verdictFor(user))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": string(b)}},
			},
		})
	})

	log.Printf("judge-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
