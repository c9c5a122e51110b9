package orchestrate

import (
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/downloader"
	"github.com/Sriram-PR/khinsider-dl/pkg/fetch"
	"github.com/Sriram-PR/khinsider-dl/pkg/resolve"
)

// Pipeline holds the HTTP-facing components shared by every album of one process
type Pipeline struct {
	appCfg   *config.AppConfig
	Resolver *resolve.Resolver
	Transfer *fetch.Downloader
}

// NewPipeline builds the shared clients, fetcher, resolver and downloader
func NewPipeline(appCfg *config.AppConfig, log *logrus.Entry) *Pipeline {
	pageClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	downloadClient := fetch.NewDownloadClient(pageClient, appCfg.HTTPClientSettings)

	fetcher := fetch.NewFetcher(pageClient, appCfg, log)
	if appCfg.RespectRobots {
		fetcher.WithRobots(fetch.NewRobotsChecker(pageClient, appCfg.DefaultUserAgent, log))
	}

	return &Pipeline{
		appCfg:   appCfg,
		Resolver: resolve.NewResolver(fetcher, appCfg, log),
		Transfer: fetch.NewDownloader(downloadClient, appCfg, log),
	}
}

// NewEngine returns a fresh engine bound to the shared components
func (p *Pipeline) NewEngine(log *logrus.Entry) *downloader.Engine {
	return downloader.New(p.Resolver, p.Transfer, p.appCfg, log)
}
