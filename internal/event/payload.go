package event

import (
	"github.com/ohler55/ojg/jp"

	"github.com/strata-etl/strata/api"
)

// Payload field paths, compiled once. The payload shape is a tagged union
// keyed by event_type; only the paths for the record's declared type are
// evaluated, everything else stays nil on the fact row.
var (
	pathAction       = jp.MustParseString("$.payload.action")
	pathIssueID      = jp.MustParseString("$.payload.issue.id")
	pathIssueNumber  = jp.MustParseString("$.payload.issue.number")
	pathPRID         = jp.MustParseString("$.payload.pull_request.id")
	pathPRNumber     = jp.MustParseString("$.payload.pull_request.number")
	pathPRNumberAlt  = jp.MustParseString("$.payload.number")
	pathPRMerged     = jp.MustParseString("$.payload.pull_request.merged")
	pathCommentID    = jp.MustParseString("$.payload.comment.id")
	pathPushSize     = jp.MustParseString("$.payload.size")
	pathDistinctSize = jp.MustParseString("$.payload.distinct_size")
	pathRef          = jp.MustParseString("$.payload.ref")
	pathRefType      = jp.MustParseString("$.payload.ref_type")
	pathHead         = jp.MustParseString("$.payload.head")
	pathBefore       = jp.MustParseString("$.payload.before")
)

// ExtractFact builds the payload fact row for a record. Returns false when
// the record has no event id or no payload object. Unknown event types yield
// an action-only fact.
func ExtractFact(rec *api.RawRecord) (api.PayloadFact, bool) {
	if rec.EventID == "" {
		return api.PayloadFact{}, false
	}
	if _, ok := rec.Payload["payload"].(map[string]any); !ok {
		return api.PayloadFact{}, false
	}

	fact := api.PayloadFact{
		EventID:   rec.EventID,
		EventType: rec.EventType,
		Action:    pathStr(pathAction, rec.Payload),
	}

	switch rec.EventType {
	case "IssuesEvent":
		fact.IssueID = pathInt(pathIssueID, rec.Payload)
		fact.IssueNumber = pathInt(pathIssueNumber, rec.Payload)
	case "PullRequestEvent", "PullRequestReviewEvent":
		fact.PullRequestID = pathInt(pathPRID, rec.Payload)
		fact.PRMerged = pathBool(pathPRMerged, rec.Payload)
		fact.PRNumber = pathInt(pathPRNumber, rec.Payload)
		if fact.PRNumber == nil {
			fact.PRNumber = pathInt(pathPRNumberAlt, rec.Payload)
		}
	case "IssueCommentEvent", "CommitCommentEvent", "PullRequestReviewCommentEvent":
		fact.CommentID = pathInt(pathCommentID, rec.Payload)
		fact.IssueNumber = pathInt(pathIssueNumber, rec.Payload)
	case "PushEvent":
		fact.PushSize = pathInt(pathPushSize, rec.Payload)
		fact.DistinctSize = pathInt(pathDistinctSize, rec.Payload)
		fact.Ref = pathStr(pathRef, rec.Payload)
		fact.Head = pathStr(pathHead, rec.Payload)
		fact.Before = pathStr(pathBefore, rec.Payload)
	case "CreateEvent", "DeleteEvent":
		fact.Ref = pathStr(pathRef, rec.Payload)
		fact.RefType = pathStr(pathRefType, rec.Payload)
	}
	return fact, true
}

func pathStr(x jp.Expr, doc map[string]any) *string {
	for _, v := range x.Get(doc) {
		if s, ok := v.(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

func pathInt(x jp.Expr, doc map[string]any) *int64 {
	for _, v := range x.Get(doc) {
		switch n := v.(type) {
		case int64:
			return &n
		case float64:
			i := int64(n)
			return &i
		}
	}
	return nil
}

func pathBool(x jp.Expr, doc map[string]any) *bool {
	for _, v := range x.Get(doc) {
		if b, ok := v.(bool); ok {
			return &b
		}
	}
	return nil
}
