package http_test

import (
	"testing"

	"github.com/bitswarm/tracker/executor"
	"github.com/bitswarm/tracker/frontend"
	httpfrontend "github.com/bitswarm/tracker/frontend/http"
	"github.com/bitswarm/tracker/storage"
	_ "github.com/bitswarm/tracker/storage/memory"
	"github.com/bitswarm/tracker/tracker"
)

func TestStartStopRace(t *testing.T) {
	ps, err := storage.NewPeerStore("memory", nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &tracker.Config{DefaultNumWant: 50, MaxNumWant: 100}
	worker := executor.New(executor.State{Storage: ps, Config: cfg}, tracker.Logic{}.Handlers(), 0)
	backend := frontend.NewWorkerBackend(worker)

	fe, err := httpfrontend.NewFrontend(backend, nil, httpfrontend.Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatal(err)
	}

	if err := <-fe.Stop(); err != nil {
		t.Fatal(err)
	}
}
