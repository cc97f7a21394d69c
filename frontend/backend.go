package frontend

import (
	"context"
	"errors"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/executor"
)

// errUnexpectedOutput means a Worker replied with an Output shape that does
// not match the Task submitted; this can only happen if executor.Worker's
// dispatch table and this adapter's Task/Output pairing have drifted apart.
var errUnexpectedOutput = errors.New("frontend: worker returned an unexpected output type")

// WorkerBackend implements TrackerLogic by submitting parsed requests to an
// executor.Worker and translating its typed Output back into a response.
type WorkerBackend struct {
	Worker *executor.Worker
}

// NewWorkerBackend builds a TrackerLogic backed by worker.
func NewWorkerBackend(worker *executor.Worker) *WorkerBackend {
	return &WorkerBackend{Worker: worker}
}

// HandleAnnounce submits req as an AnnounceTask and unwraps the response.
func (b *WorkerBackend) HandleAnnounce(ctx context.Context, req bittorrent.AnnounceRequest) (bittorrent.AnnounceResponse, error) {
	out, err := b.Worker.Submit(ctx, executor.AnnounceTask{Request: req})
	if err != nil {
		return bittorrent.AnnounceResponse{}, err
	}
	ao, ok := out.(executor.AnnounceOutput)
	if !ok {
		return bittorrent.AnnounceResponse{}, errUnexpectedOutput
	}
	return ao.Response, nil
}

// AfterAnnounce is a no-op; nothing in this tracker needs post-response
// observation of an Announce yet.
func (b *WorkerBackend) AfterAnnounce(context.Context, bittorrent.AnnounceRequest, bittorrent.AnnounceResponse) {
}

// HandleScrape submits req as a ScrapeTask and unwraps the response. Callers
// wanting a full scrape (empty InfoHashes) should go through a
// tracker.FullScrapeCache directly instead, as frontend/http's scrape route
// does; frontend/udp rejects full scrapes.
func (b *WorkerBackend) HandleScrape(ctx context.Context, req bittorrent.ScrapeRequest) (bittorrent.ScrapeResponse, error) {
	out, err := b.Worker.Submit(ctx, executor.ScrapeTask{Request: req})
	if err != nil {
		return bittorrent.ScrapeResponse{}, err
	}
	so, ok := out.(executor.ScrapeOutput)
	if !ok {
		return bittorrent.ScrapeResponse{}, errUnexpectedOutput
	}
	return so.Response, nil
}

// AfterScrape is a no-op; see AfterAnnounce.
func (b *WorkerBackend) AfterScrape(context.Context, bittorrent.ScrapeRequest, bittorrent.ScrapeResponse) {
}
