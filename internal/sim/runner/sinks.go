package runner

import (
	"arenasim.ai/internal/protocol"
)

// Descriptor is one queued series.
type Descriptor = protocol.MatchDescriptor

// Recorder receives the logical content of one series in order: a series
// header, then per match a header, the round batches and a footer, then the
// series footer. Abort replaces the footer when the series fails.
type Recorder interface {
	BeginSeries(h protocol.SeriesHeader) error
	BeginMatch(h protocol.MatchHeader) error
	WriteRound(rec protocol.RoundRecord) error
	EndMatch(f protocol.MatchFooter) error
	EndSeries(f protocol.SeriesFooter) error
	Abort(cause error) error
	Close() error
}

// RecorderFactory opens the recorder for a descriptor.
type RecorderFactory func(d Descriptor) (Recorder, error)

// ResultSink gets a copy of everything the recorder gets, plus failures. It
// must not block.
type ResultSink interface {
	SeriesStarted(h protocol.SeriesHeader, replayPath string)
	RoundPlayed(seriesID string, rec protocol.RoundRecord)
	MatchFinished(seriesID string, h protocol.MatchHeader, f protocol.MatchFooter)
	SeriesFinished(seriesID string, f protocol.SeriesFooter)
	SeriesFailed(seriesID string, cause error)
}

// Observer receives ROUND, RESULT and STATE messages for live feeds. Publish
// must not block.
type Observer interface {
	Publish(v any)
}

type nopRecorder struct{}

func (nopRecorder) BeginSeries(protocol.SeriesHeader) error { return nil }
func (nopRecorder) BeginMatch(protocol.MatchHeader) error   { return nil }
func (nopRecorder) WriteRound(protocol.RoundRecord) error   { return nil }
func (nopRecorder) EndMatch(protocol.MatchFooter) error     { return nil }
func (nopRecorder) EndSeries(protocol.SeriesFooter) error   { return nil }
func (nopRecorder) Abort(error) error                       { return nil }
func (nopRecorder) Close() error                            { return nil }

type nopResults struct{}

func (nopResults) SeriesStarted(protocol.SeriesHeader, string)                      {}
func (nopResults) RoundPlayed(string, protocol.RoundRecord)                         {}
func (nopResults) MatchFinished(string, protocol.MatchHeader, protocol.MatchFooter) {}
func (nopResults) SeriesFinished(string, protocol.SeriesFooter)                     {}
func (nopResults) SeriesFailed(string, error)                                       {}

type nopObserver struct{}

func (nopObserver) Publish(any) {}

// replayPath returns where a recorder writes, when it says.
func replayPath(r Recorder) string {
	if p, ok := r.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}
