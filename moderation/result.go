package moderation

import (
	"encoding/json"
	"fmt"

	"github.com/perch-social/perch/models"
	"github.com/perch-social/perch/util"
)

// minimum classifier confidence before a class counts against the content
const rejectScoreThreshold = 0.90

// ProviderResult is the verdict payload delivered to the callback endpoint.
// Providers either state a verdict outright or return scored classes, in
// which case any violation class at or above the threshold rejects.
type ProviderResult struct {
	Verdict    string                `json:"verdict,omitempty"`
	Classes    []ProviderResultClass `json:"classes,omitempty"`
	ReviewedAt string                `json:"reviewedAt,omitempty"`
}

type ProviderResultClass struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
}

// classes that reject content when scored at or above the threshold
var rejectClasses = map[string]bool{
	"adult":     true,
	"racy":      true,
	"gore":      true,
	"hate":      true,
	"self_harm": true,
	"offensive": true,
}

func (r *ProviderResult) ReviewStatus() (models.ReviewStatus, error) {
	switch r.Verdict {
	case "approve", "active":
		return models.ReviewStatusActive, nil
	case "reject", "banned":
		return models.ReviewStatusRejected, nil
	case "":
		// fall through to scored classes
	default:
		return models.ReviewStatusUnknown, fmt.Errorf("%w: unknown verdict %q", models.ErrInvalidInput, r.Verdict)
	}
	if len(r.Classes) == 0 {
		return models.ReviewStatusUnknown, fmt.Errorf("%w: result carries neither verdict nor classes", models.ErrInvalidInput)
	}
	for _, cls := range r.Classes {
		if rejectClasses[cls.Class] && cls.Score >= rejectScoreThreshold {
			return models.ReviewStatusRejected, nil
		}
	}
	return models.ReviewStatusActive, nil
}

// ParseResult decodes a raw callback payload into a review verdict.
func ParseResult(payload []byte) (models.ReviewStatus, *ProviderResult, error) {
	var res ProviderResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return models.ReviewStatusUnknown, nil, fmt.Errorf("%w: undecodable result payload: %v", models.ErrInvalidInput, err)
	}
	status, err := res.ReviewStatus()
	if err != nil {
		return models.ReviewStatusUnknown, nil, err
	}
	if res.ReviewedAt != "" {
		if _, err := util.ParseTimestamp(res.ReviewedAt); err != nil {
			return models.ReviewStatusUnknown, nil, fmt.Errorf("%w: bad reviewedAt timestamp: %v", models.ErrInvalidInput, err)
		}
	}
	return status, &res, nil
}
