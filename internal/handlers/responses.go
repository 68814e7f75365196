package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/repository"
)

func entryJSON(e engine.Entry) gin.H {
	return gin.H{
		"id":         e.ID,
		"image":      e.Path,
		"phone":      e.Phone,
		"created_at": e.CreatedAt,
	}
}

func entriesJSON(entries []engine.Entry) []gin.H {
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON(e))
	}
	return out
}

func comparisonJSON(log *repository.ComparisonLog) gin.H {
	body := gin.H{
		"request_id":      log.RequestID,
		"matched":         log.Matched,
		"outcome":         log.Outcome,
		"score":           log.Score,
		"query_keypoints": log.QueryKeypoints,
		"scanned":         log.Scanned,
		"skipped":         log.Skipped,
		"latency_ms":      log.LatencyMs,
		"created_at":      log.CreatedAt,
	}
	if log.Matched && log.MatchedEntryID != nil {
		item := gin.H{
			"id":    *log.MatchedEntryID,
			"image": log.MatchedImage,
			"phone": log.MatchedPhone,
		}
		if log.MatchedReportedAt != nil {
			item["created_at"] = *log.MatchedReportedAt
		}
		body["item"] = item
	}
	return body
}
