package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ha1tch/quill/pkg/cache"
	"github.com/ha1tch/quill/pkg/catalog"
	"github.com/ha1tch/quill/pkg/config"
	"github.com/ha1tch/quill/pkg/relations"
	"github.com/ha1tch/quill/pkg/server"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/ha1tch/quill/pkg/validation"
	"github.com/rs/zerolog"
)

// setupBenchServer creates a sqlite backed server for benchmarking
func setupBenchServer(b *testing.B) *httptest.Server {
	b.Helper()
	tmpDir := b.TempDir()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(tmpDir, "bench.db")

	store, err := storage.NewStore("sqlite", map[string]interface{}{"db_path": cfg.DBPath})
	if err != nil {
		b.Fatal(err)
	}

	logger := zerolog.Nop()
	catalogs := catalog.NewCatalogs(store, logger, relations.Options{Locking: true})
	memCache := cache.NewMemoryCache(1000, time.Duration(cfg.CacheTTL)*time.Second)

	srv := server.New(cfg, store, catalogs, memCache, validation.NewDefaultValidator(), logger)
	ts := httptest.NewServer(srv.Handler())

	b.Cleanup(func() {
		ts.Close()
		store.Close()
	})

	return ts
}

// post sends a JSON body and decodes the created document
func post(b *testing.B, url string, data interface{}) map[string]interface{} {
	bodyBytes, _ := json.Marshal(data)
	resp, err := http.Post(url, "application/json", bytes.NewReader(bodyBytes))
	if err != nil {
		b.Fatal(err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		b.Fatal(err)
	}
	return result
}

// seedCharacters creates a project with n characters, each related to its
// predecessor
func seedCharacters(b *testing.B, ts *httptest.Server, n int) (int, []int) {
	b.Helper()

	project := post(b, ts.URL+"/api/projects", map[string]interface{}{"title": "Bench"})
	pid := int(project["id"].(float64))

	ids := make([]int, 0, n)
	for i := 0; i < n; i++ {
		data := map[string]interface{}{"name": fmt.Sprintf("Figur %d", i)}
		if i > 0 {
			data["relations"] = []interface{}{
				map[string]interface{}{"toId": ids[i-1], "type": "Mentor", "strength": 4},
			}
		}
		doc := post(b, fmt.Sprintf("%s/api/projects/%d/characters", ts.URL, pid), data)
		ids = append(ids, int(doc["id"].(float64)))
	}
	return pid, ids
}

// BenchmarkCreateCharacter benchmarks creation without relations
func BenchmarkCreateCharacter(b *testing.B) {
	ts := setupBenchServer(b)
	pid, _ := seedCharacters(b, ts, 0)

	bodyBytes, _ := json.Marshal(map[string]interface{}{"name": "Bench", "role": "Held"})
	url := fmt.Sprintf("%s/api/projects/%d/characters", ts.URL, pid)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := http.Post(url, "application/json", bytes.NewReader(bodyBytes))
			if err != nil {
				b.Error(err)
				return
			}
			resp.Body.Close()
		}
	})
}

// BenchmarkCreateWithRelations benchmarks creation mirroring two edges
func BenchmarkCreateWithRelations(b *testing.B) {
	ts := setupBenchServer(b)
	pid, ids := seedCharacters(b, ts, 2)

	bodyBytes, _ := json.Marshal(map[string]interface{}{
		"name": "Bench",
		"relations": []interface{}{
			map[string]interface{}{"toId": ids[0], "type": "Freund"},
			map[string]interface{}{"toId": ids[1], "type": "Feind", "strength": 2},
		},
	})
	url := fmt.Sprintf("%s/api/projects/%d/characters", ts.URL, pid)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Post(url, "application/json", bytes.NewReader(bodyBytes))
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}

// BenchmarkReconcile benchmarks replacing a relation list
func BenchmarkReconcile(b *testing.B) {
	ts := setupBenchServer(b)
	_, ids := seedCharacters(b, ts, 10)

	lists := make([][]byte, 2)
	lists[0], _ = json.Marshal(map[string]interface{}{"relations": []interface{}{
		map[string]interface{}{"toId": ids[1], "type": "Freund"},
		map[string]interface{}{"toId": ids[2], "type": "Kennt"},
	}})
	lists[1], _ = json.Marshal(map[string]interface{}{"relations": []interface{}{
		map[string]interface{}{"toId": ids[3], "type": "Feind"},
	}})
	url := fmt.Sprintf("%s/api/characters/%d", ts.URL, ids[0])

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req, _ := http.NewRequest("PUT", url, bytes.NewReader(lists[i%2]))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}

// BenchmarkGetCharacter benchmarks cached single document reads
func BenchmarkGetCharacter(b *testing.B) {
	ts := setupBenchServer(b)
	_, ids := seedCharacters(b, ts, 1)
	url := fmt.Sprintf("%s/api/characters/%d", ts.URL, ids[0])

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := http.Get(url)
			if err != nil {
				b.Error(err)
				return
			}
			resp.Body.Close()
		}
	})
}

// BenchmarkRelationsGraph benchmarks the graph view of a project
func BenchmarkRelationsGraph(b *testing.B) {
	ts := setupBenchServer(b)
	pid, _ := seedCharacters(b, ts, 50)
	url := fmt.Sprintf("%s/api/projects/%d/relations-graph", ts.URL, pid)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := http.Get(url)
			if err != nil {
				b.Error(err)
				return
			}
			resp.Body.Close()
		}
	})
}

// BenchmarkNeighbors benchmarks relation index lookups
func BenchmarkNeighbors(b *testing.B) {
	ts := setupBenchServer(b)
	_, ids := seedCharacters(b, ts, 50)
	url := fmt.Sprintf("%s/api/characters/%d/neighbors?direction=in", ts.URL, ids[25])

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := http.Get(url)
			if err != nil {
				b.Error(err)
				return
			}
			resp.Body.Close()
		}
	})
}

// BenchmarkHealthCheck benchmarks the health endpoint
func BenchmarkHealthCheck(b *testing.B) {
	ts := setupBenchServer(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resp, err := http.Get(ts.URL + "/api/health")
			if err != nil {
				b.Error(err)
				return
			}
			resp.Body.Close()
		}
	})
}
