// Package question models the quiz items produced by the page extractor and
// turns them into orchestrator jobs.
package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/soundstarrain/yuketang-assistant/internal/orchestrator"
	"github.com/soundstarrain/yuketang-assistant/pkg/types"
)

// ErrEmptyQuestionSet is returned when the extractor output holds no questions.
var ErrEmptyQuestionSet = errors.New("no questions found")

// Question is one extracted quiz item. ID is optional; Index is the position
// on the page and serves as the fallback identity.
type Question struct {
	ID      string `json:"id,omitempty"`
	Index   int    `json:"index"`
	Meta    string `json:"meta"`    // e.g. "1.多选题 (10分)"
	Body    string `json:"body"`    // stem text
	Options string `json:"options"` // option lines, already flattened to text
	Answer  string `json:"answer,omitempty"`
}

// Key returns the question identity used for locking: the ID when present,
// otherwise the decimal index. Callers that mix questions from different pages
// must supply IDs; index keys collide across pages.
func (q Question) Key() types.Key {
	if id := strings.TrimSpace(q.ID); id != "" {
		return types.Key(id)
	}
	return types.Key(strconv.Itoa(q.Index))
}

// Kind is the question type label used in prompts.
type Kind string

const (
	KindMultiple   Kind = "多选题"
	KindSingle     Kind = "单选题"
	KindTrueFalse  Kind = "判断题"
	KindFillBlank  Kind = "填空题"
	KindSubjective Kind = "主观题"
	KindGeneric    Kind = "题目"
)

// kindMarkers is checked in order; 多选 must win over 单选 for mixed meta text.
var kindMarkers = []struct {
	marker string
	kind   Kind
}{
	{"多选", KindMultiple},
	{"单选", KindSingle},
	{"判断", KindTrueFalse},
	{"填空", KindFillBlank},
	{"主观", KindSubjective},
}

// Kind detects the question type from the meta line.
func (q Question) Kind() Kind {
	for _, m := range kindMarkers {
		if strings.Contains(q.Meta, m.marker) {
			return m.kind
		}
	}
	return KindGeneric
}

// Decode reads a JSON array of questions. Missing indexes are filled with the
// array position.
func Decode(r io.Reader) ([]Question, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse questions: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyQuestionSet
	}

	questions := make([]Question, 0, len(raw))
	for i, item := range raw {
		var head struct {
			Index *int `json:"index"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("failed to parse question %d: %w", i, err)
		}
		var q Question
		if err := json.Unmarshal(item, &q); err != nil {
			return nil, fmt.Errorf("failed to parse question %d: %w", i, err)
		}
		if head.Index == nil {
			q.Index = i
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// LoadFile reads questions from a JSON file.
func LoadFile(path string) ([]Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read question file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Jobs wraps questions as orchestrator jobs in input order.
func Jobs(questions []Question) []orchestrator.Job[Question] {
	jobs := make([]orchestrator.Job[Question], len(questions))
	for i, q := range questions {
		jobs[i] = orchestrator.Job[Question]{Key: q.Key(), Payload: q}
	}
	return jobs
}
