package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

type EngineResponse struct {
	State   string       `json:"state"`
	Phrases []TestPhrase `json:"phrases"`
}

type TestPhrase struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

var samplePhrases = []string{
	"привет это тестовая фраза",
	"распознавание речи работает",
	"качество звука хорошее",
	"продолжаем диктовку дальше",
}

// The fake engine state is just a chunk counter, so resumed sessions keep
// producing phrases with advancing timestamps. A missing state field starts
// a fresh stream.
func readCounter(r *http.Request) (int, error) {
	stateField := r.FormValue("state")
	if stateField == "" {
		return 0, nil
	}

	raw, err := base64.StdEncoding.DecodeString(stateField)
	if err != nil {
		return 0, fmt.Errorf("state is not valid base64: %v", err)
	}

	counter, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("state payload is not a counter: %v", err)
	}

	return counter, nil
}

func writeResponse(w http.ResponseWriter, counter int, phrases []TestPhrase) {
	if phrases == nil {
		phrases = []TestPhrase{}
	}

	response := EngineResponse{
		State:   base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(counter))),
		Phrases: phrases,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func initHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Printf("🎬 INIT REQUEST RECEIVED:")
	log.Printf("    Language: %s", r.FormValue("language"))

	writeResponse(w, 0, nil)

	log.Printf("✅ INIT RESPONSE SENT: fresh state")
	log.Println("---")
}

func processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10 MB
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	counter, err := readCounter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 PROCESS REQUEST RECEIVED:")
	log.Printf("    Chunk number: %d", counter+1)
	log.Printf("    Filename: %s", header.Filename)
	log.Printf("    Audio Size: %d bytes", len(audioData))
	log.Printf("    Language: %s", r.FormValue("language"))

	// Simulate processing time
	time.Sleep(100 * time.Millisecond)

	phrase := TestPhrase{
		Text:      samplePhrases[counter%len(samplePhrases)],
		StartTime: float64(counter),
		EndTime:   float64(counter) + 0.9,
	}

	writeResponse(w, counter+1, []TestPhrase{phrase})

	log.Printf("✅ PROCESS RESPONSE SENT: '%s'", phrase.Text)
	log.Println("---")
}

func flushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10 MB
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	counter, err := readCounter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	log.Printf("🏁 FLUSH REQUEST RECEIVED after %d chunks", counter)

	phrases := []TestPhrase{}
	if counter > 0 {
		phrases = append(phrases, TestPhrase{
			Text:      "это конец записи",
			StartTime: float64(counter),
			EndTime:   float64(counter) + 0.5,
		})
	}

	writeResponse(w, counter, phrases)

	log.Printf("✅ FLUSH RESPONSE SENT: %d phrases", len(phrases))
	log.Println("---")
}

func main() {
	http.HandleFunc("/init", initHandler)
	http.HandleFunc("/process", processHandler)
	http.HandleFunc("/flush", flushHandler)

	port := ":9000"
	log.Printf("🚀 Test Recognition Engine starting on port %s", port)
	log.Printf("📡 Endpoints: http://localhost%s/init /process /flush", port)
	log.Println("💡 Update your config to use: endpoint http://localhost:9000")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
