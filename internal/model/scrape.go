package model

import "time"

// ScrapePhase はパイプライン実行の状態を表す。
//
//	Idle → Fetching → Extracting → Persisting → {Completed, Failed}
type ScrapePhase string

const (
	ScrapePhaseIdle       ScrapePhase = "idle"
	ScrapePhaseFetching   ScrapePhase = "fetching"
	ScrapePhaseExtracting ScrapePhase = "extracting"
	ScrapePhasePersisting ScrapePhase = "persisting"
	ScrapePhaseCompleted  ScrapePhase = "completed"
	ScrapePhaseFailed     ScrapePhase = "failed"
)

// IsTerminal は終端状態かどうかを返す。
func (p ScrapePhase) IsTerminal() bool {
	return p == ScrapePhaseCompleted || p == ScrapePhaseFailed
}

// ScrapeResult は1回のパイプライン実行の結果サマリー。
// 永続化はされず、呼び出し元への戻り値としてのみ使用する。
type ScrapeResult struct {
	RunID     string
	Succeeded bool
	// AddedCount は今回の実行で新規挿入された記事数。
	// 保存途中で失敗した場合は失敗前までに挿入された件数となる。
	AddedCount     int
	SkippedCount   int
	CandidateCount int
	DroppedCount   int
	Message        string
	// FailedPhase は失敗した状態（fetching / persisting）。成功時は空。
	FailedPhase ScrapePhase
	Duration    time.Duration
}
