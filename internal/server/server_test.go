package server

import (
	"testing"

	"github.com/realfolio/realfolio/internal/config"
	"github.com/realfolio/realfolio/internal/queue"
)

func TestServerQueue(t *testing.T) {
	mem := queue.NewMemoryQueue(1)
	t.Cleanup(func() { mem.Close() })

	tests := []struct {
		name      string
		runWorker bool
		queueType string
		wantNil   bool
	}{
		{"memory with worker", true, "memory", false},
		{"memory without worker", false, "memory", true},
		{"valkey without worker", false, "valkey", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Queue: config.QueueConfig{Type: tt.queueType}}
			got := serverQueue(tt.runWorker, cfg, mem)
			if (got == nil) != tt.wantNil {
				t.Errorf("serverQueue() = %v, want nil: %v", got, tt.wantNil)
			}
		})
	}
}

func TestCreateQueue(t *testing.T) {
	q, err := createQueue(&config.Config{Queue: config.QueueConfig{Type: "memory"}})
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	q.Close()

	if _, err := createQueue(&config.Config{Queue: config.QueueConfig{Type: "valkey"}}); err == nil {
		t.Error("valkey without address: expected error")
	}
	if _, err := createQueue(&config.Config{Queue: config.QueueConfig{Type: "kafka"}}); err == nil {
		t.Error("unknown queue type: expected error")
	}
}
