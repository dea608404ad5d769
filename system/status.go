package system

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// RecentOutcomes is how many submission outcomes /status lists.
const RecentOutcomes = 10

func (s *System) Stats() Stats {
	stats := Stats{Hits: s.hits.Load()}
	d := time.Since(s.started)
	stats.Uptime = d.Truncate(time.Second).Seconds()
	if stats.Uptime > 0 {
		stats.Average = math.Round(float64(stats.Hits)/stats.Uptime*100) / 100
	}
	if s.audit != nil {
		counts, err := s.audit.Counts()
		if err != nil {
			s.log.Warn("reading submission counts", zap.Error(err))
		}
		stats.Submissions = counts
		recent, err := s.audit.Recent(RecentOutcomes)
		if err != nil {
			s.log.Warn("reading recent submissions", zap.Error(err))
		}
		stats.Recent = lo.Map(recent, func(rec AuditRecord, _ int) Outcome {
			return Outcome{Time: rec.Time, Outcome: rec.Outcome, Detail: rec.Detail}
		})
	}
	return stats
}

func (s *System) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Stats())
}
