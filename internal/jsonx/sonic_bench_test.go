package jsonx

import (
	"encoding/json"
	"testing"
)

type shardClientConfig struct {
	Region      string            `json:"region"`
	Weight      int               `json:"weight"`
	Enabled     bool              `json:"enabled"`
	Tags        []string          `json:"tags"`
	Settings    map[string]string `json:"settings"`
}

var benchConfig = shardClientConfig{
	Region:  "us-east-1",
	Weight:  100,
	Enabled: true,
	Tags:    []string{"primary", "hash-range-0"},
	Settings: map[string]string{
		"replication": "sync",
		"compaction":  "leveled",
	},
}

func BenchmarkSonicMarshalClientConfiguration(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(benchConfig)
	}
}

func BenchmarkJSONMarshalClientConfiguration(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = json.Marshal(benchConfig)
	}
}

func BenchmarkSonicUnmarshalClientConfiguration(b *testing.B) {
	data, _ := json.Marshal(benchConfig)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var out shardClientConfig
		_ = Unmarshal(data, &out)
	}
}

func BenchmarkJSONUnmarshalClientConfiguration(b *testing.B) {
	data, _ := json.Marshal(benchConfig)
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		var out shardClientConfig
		_ = json.Unmarshal(data, &out)
	}
}
